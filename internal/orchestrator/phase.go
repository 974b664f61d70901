package orchestrator

// ISOPhase is the Internal States Orchestrator's position in an epoch.
type ISOPhase uint8

const (
	ISOIdle ISOPhase = iota
	ISOPreprocessing
	ISOBuffering
	ISOPostprocessing
	ISOBuildingOrders
	ISOSellingLeg
	ISOBuyingLeg
)

func (p ISOPhase) String() string {
	switch p {
	case ISOIdle:
		return "IDLE"
	case ISOPreprocessing:
		return "PREPROCESSING"
	case ISOBuffering:
		return "BUFFERING"
	case ISOPostprocessing:
		return "POSTPROCESSING"
	case ISOBuildingOrders:
		return "BUILDING_ORDERS"
	case ISOSellingLeg:
		return "SELLING_LEG"
	case ISOBuyingLeg:
		return "BUYING_LEG"
	default:
		return "UNKNOWN"
	}
}

// LOPhase is the Liquidity Orchestrator's position in an epoch.
type LOPhase uint8

const (
	LOIdle LOPhase = iota
	LOFulfillDepositAndRedeem
	LOSellingLeg
	LOBuyingLeg
)

func (p LOPhase) String() string {
	switch p {
	case LOIdle:
		return "IDLE"
	case LOFulfillDepositAndRedeem:
		return "FULFILL_DEPOSIT_AND_REDEEM"
	case LOSellingLeg:
		return "SELLING_LEG"
	case LOBuyingLeg:
		return "BUYING_LEG"
	default:
		return "UNKNOWN"
	}
}

// Target names an orchestrator for the scheduler surface.
type Target string

const (
	TargetISO Target = "iso"
	TargetLO  Target = "lo"
)
