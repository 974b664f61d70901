package main

import (
	"context"
	"testing"

	"Orion/internal/oracle"
	"Orion/internal/protocol"
	"Orion/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOracleEntries(t *testing.T) {
	entries, err := parseOracleEntries([]byte(`
base_asset: "0x00000000000000000000000000000000000000c1"
oracles:
  - asset: "0x00000000000000000000000000000000000000c1"
    kind: fixed_underlying
  - asset: "0x00000000000000000000000000000000000000c2"
    kind: chainlink
    feed: "0x00000000000000000000000000000000000000f1"
    inverse: true
    max_staleness: 90s
    min_price: "1"
`))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "fixed_underlying", entries[0].Kind)
	assert.Equal(t, "chainlink", entries[1].Kind)
	assert.True(t, entries[1].Inverse)
	assert.Equal(t, "90s", entries[1].MaxStaleness)
	assert.Equal(t, "1", entries[1].MinPrice)
	assert.Empty(t, entries[1].MaxPrice)
}

func TestParseOracleEntries_NoSection(t *testing.T) {
	entries, err := parseOracleEntries([]byte("base_asset: \"0x00000000000000000000000000000000000000c1\"\n"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdapterFactory_Build(t *testing.T) {
	owner := common.HexToAddress("0xa1")
	base := common.HexToAddress("0xc1")
	cfg := protocol.NewConfig(base, 6, protocol.Roles{Owner: owner})
	f := &adapterFactory{
		cfg:       cfg,
		registry:  oracle.NewRegistry(cfg),
		vaults:    vault.NewDirectory(cfg, nil),
		chainlink: oracle.NewChainlinkFeed(owner),
	}
	ctx := context.Background()

	a, err := f.build(ctx, base, oracleEntry{Kind: "fixed_underlying"})
	require.NoError(t, err)
	assert.Equal(t, oracle.KindFixedUnderlying, a.Kind())

	a, err = f.build(ctx, common.HexToAddress("0xe1"), oracleEntry{Kind: "orion_vault_share"})
	require.NoError(t, err)
	assert.Equal(t, oracle.KindOrionVaultShare, a.Kind())

	for _, kind := range []string{"chainlink", "vault_share", "composed_vault_share"} {
		_, err = f.build(ctx, common.HexToAddress("0xc2"), oracleEntry{Kind: kind})
		assert.ErrorContains(t, err, "ORION_RPC_URL", kind)
	}

	_, err = f.build(ctx, base, oracleEntry{Kind: "twap"})
	assert.ErrorContains(t, err, `unknown adapter kind "twap"`)
}

func TestOptionalInt(t *testing.T) {
	v, err := optionalInt("min_price", "")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = optionalInt("min_price", "123456789012345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", v.String())

	_, err = optionalInt("max_price", "1e18")
	assert.ErrorContains(t, err, "max_price")
}
