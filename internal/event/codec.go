package event

import (
	"encoding/json"
	"fmt"
)

// Encode serializes an event for the payload column.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// Decode rebuilds an event from its logged type and payload. AdapterSet
// decodes without its adapter, which is never serialized.
func Decode(et EventType, payload []byte) (Event, error) {
	var evt Event
	switch et {
	case EventTypeVaultCreated:
		evt = &VaultCreated{}
	case EventTypeIntentSubmitted:
		evt = &IntentSubmitted{}
	case EventTypeDepositRequested:
		evt = &DepositRequested{}
	case EventTypeWithdrawRequested:
		evt = &WithdrawRequested{}
	case EventTypeTokenListed:
		evt = &TokenListed{}
	case EventTypeFundsCredited:
		evt = &FundsCredited{}
	case EventTypeAdapterSet:
		evt = &AdapterSet{}
	case EventTypeUpkeepPerformed:
		evt = &UpkeepPerformed{}
	default:
		return nil, fmt.Errorf("unknown event type %d", et)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}
