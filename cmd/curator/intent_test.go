package main

import (
	"math/big"
	"testing"
	"time"

	fpmath "Orion/internal/math"
	"Orion/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	usdc  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	weth  = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	wbtc  = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	vlt   = "0x00000000000000000000000000000000000000E1"
	cur   = "0x00000000000000000000000000000000000000D1"
)

func testConfig(t *testing.T) *protocol.Config {
	t.Helper()
	cfg := protocol.NewConfig(usdc, 6, protocol.Roles{Owner: owner})
	require.NoError(t, cfg.RegisterToken(owner, weth, 18))
	require.NoError(t, cfg.RegisterToken(owner, wbtc, 8))
	require.NoError(t, cfg.Whitelist(owner, usdc))
	require.NoError(t, cfg.Whitelist(owner, weth))
	return cfg
}

func portfolio(weights ...string) *Portfolio {
	p := &Portfolio{Vault: vlt, Curator: cur, Nonce: 1}
	for i := 0; i+1 < len(weights); i += 2 {
		p.Weights = append(p.Weights, struct {
			Token  string `yaml:"token"`
			Weight string `yaml:"weight"`
		}{Token: weights[i], Weight: weights[i+1]})
	}
	return p
}

func TestPrepareIntent_ScalesToIntentDecimals(t *testing.T) {
	cfg := testConfig(t)
	now := time.Unix(1_700_000_000, 0)

	msg, err := prepareIntent(cfg, portfolio(usdc.Hex(), "0.4", weth.Hex(), "0.6"), now)
	require.NoError(t, err)

	require.Equal(t, protocol.DefaultCuratorIntentDecimals, cfg.CuratorIntentDecimals)
	require.Len(t, msg.Weights, 2)
	assert.Equal(t, usdc.Hex(), msg.Weights[0].Token)
	assert.Equal(t, "400000", msg.Weights[0].Weight)
	assert.Equal(t, weth.Hex(), msg.Weights[1].Token)
	assert.Equal(t, "600000", msg.Weights[1].Weight)
	assert.Equal(t, now.UnixMicro(), msg.TimestampUs)
	assert.Equal(t, common.HexToAddress(vlt).Hex(), msg.Vault)
	assert.Equal(t, common.HexToAddress(cur).Hex(), msg.Caller)
	assert.NotEmpty(t, msg.CommandID)
}

func TestPrepareIntent_ThirdsSumExactly(t *testing.T) {
	cfg := testConfig(t)

	msg, err := prepareIntent(cfg, portfolio(
		usdc.Hex(), "0.3333333333",
		weth.Hex(), "0.6666666667",
	), time.Now())
	require.NoError(t, err)

	sum := new(big.Int)
	for _, w := range msg.Weights {
		v, ok := new(big.Int).SetString(w.Weight, 10)
		require.True(t, ok)
		sum.Add(sum, v)
	}
	assert.Equal(t, 0, sum.Cmp(fpmath.Pow10(cfg.CuratorIntentDecimals)))
}

func TestPrepareIntent_Rejections(t *testing.T) {
	cfg := testConfig(t)

	_, err := prepareIntent(cfg, portfolio(usdc.Hex(), "0.5", wbtc.Hex(), "0.5"), time.Now())
	assert.ErrorIs(t, err, protocol.ErrTokenNotWhitelisted)

	_, err = prepareIntent(cfg, portfolio(usdc.Hex(), "0.5", weth.Hex(), "0.4"), time.Now())
	assert.ErrorIs(t, err, protocol.ErrInvalidTotalAmount)

	_, err = prepareIntent(cfg, portfolio(usdc.Hex(), "1.2", weth.Hex(), "-0.2"), time.Now())
	assert.ErrorIs(t, err, fpmath.ErrNonPositiveWeight)

	_, err = prepareIntent(cfg, portfolio(), time.Now())
	assert.ErrorIs(t, err, protocol.ErrEmptyIntent)

	_, err = prepareIntent(cfg, portfolio(usdc.Hex(), "0.5", usdc.Hex(), "0.5"), time.Now())
	assert.Error(t, err)

	p := portfolio(usdc.Hex(), "1")
	p.Nonce = 0
	_, err = prepareIntent(cfg, p, time.Now())
	assert.Error(t, err)
}
