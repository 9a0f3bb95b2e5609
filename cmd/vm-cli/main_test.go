package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govm-net/mvm/abi"
	"github.com/govm-net/mvm/api"
	"github.com/govm-net/mvm/config"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/query"
	"github.com/govm-net/mvm/types"
	"github.com/govm-net/mvm/vm"
)

// sampleCode imports env.gas and env.abort and exports
//
//	noop: gas(5)
//	fail: gas(1) abort(7)
var sampleCode = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x08, 0x02, 0x60, 0x01, 0x7e, 0x00, 0x60, 0x00, 0x00,
	0x02, 0x17, 0x02,
	0x03, 'e', 'n', 'v', 0x03, 'g', 'a', 's', 0x00, 0x00,
	0x03, 'e', 'n', 'v', 0x05, 'a', 'b', 'o', 'r', 't', 0x00, 0x00,
	0x03, 0x03, 0x02, 0x01, 0x01,
	0x07, 0x0f, 0x02,
	0x04, 'n', 'o', 'o', 'p', 0x00, 0x02,
	0x04, 'f', 'a', 'i', 'l', 0x00, 0x03,
	0x0a, 0x13, 0x02,
	0x06, 0x00, 0x42, 0x05, 0x10, 0x00, 0x0b,
	0x0a, 0x00, 0x42, 0x01, 0x10, 0x00, 0x42, 0x07, 0x10, 0x01, 0x0b,
}

var (
	alice = core.AccountID{0xa1}
	bob   = core.AccountID{0xb0}
)

func sampleABI() abi.ABI {
	a := abi.ABI{Address: core.AddressOf(bob), Name: "sample"}
	for _, name := range []string{"noop", "fail"} {
		a.Functions = append(a.Functions, abi.Function{
			Name:       name,
			Visibility: abi.Public,
			IsEntry:    true,
			Params:     []core.TypeTag{"&signer"},
		})
	}
	return a
}

func writeFile(t *testing.T, path string, data []byte) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func receipt(t *testing.T, out string) vm.Receipt {
	t.Helper()
	var r vm.Receipt
	require.NoError(t, json.Unmarshal([]byte(out), &r), out)
	return r
}

// blockOf returns the block finalized by a committing command
func blockOf(t *testing.T, out string) ids.ID {
	t.Helper()
	var c struct {
		Block *ids.ID `json:"block"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &c), out)
	require.NotNil(t, c.Block, out)
	return *c.Block
}

// openTestNode opens the ledger the way every node command does
func openTestNode(t *testing.T, args ...string) *node {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.Flags().AddFlagSet(config.BuildFlagSet())
	require.NoError(t, cmd.Flags().Parse(args))
	cmd.SetContext(context.Background())
	n, err := openNode(cmd)
	require.NoError(t, err)
	t.Cleanup(n.Close)
	return n
}

func balanceAt(t *testing.T, uri string, at ids.ID) uint64 {
	t.Helper()
	out, err := run(t, "query", "balance", alice.String(), "--uri", uri, "--at", at.String())
	require.NoError(t, err)
	b, err := strconv.ParseUint(strings.TrimSpace(out), 10, 64)
	require.NoError(t, err, out)
	return b
}

func TestLocalLifecycle(t *testing.T) {
	dir := t.TempDir()
	rawABI, err := json.Marshal(sampleABI())
	require.NoError(t, err)
	codePath := writeFile(t, filepath.Join(dir, "sample.wasm"), sampleCode)
	abiPath := writeFile(t, filepath.Join(dir, "sample.json"), rawABI)
	genesis := writeFile(t, filepath.Join(dir, "genesis.json"),
		[]byte(`{"balances": {"`+alice.String()+`": 1000000}}`))

	node := []string{
		"--store.path=" + filepath.Join(dir, "ledger"),
		"--genesis=" + genesis,
		"--log.level=error",
	}
	modPath := filepath.Join(dir, "sample.mod")

	_, err = run(t, "pack", "--code", codePath, "--abi", abiPath, "--verify", "-o", modPath)
	require.NoError(t, err)

	out, err := run(t, "inspect", modPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"sample"`)
	assert.Contains(t, out, `"code_size"`)

	out, err = run(t, "inspect", modPath, "--bindings", "sample")
	require.NoError(t, err)
	assert.Contains(t, out, "package sample")

	out, err = run(t, append([]string{"publish", "-f", modPath, "--sender", bob.String()}, node...)...)
	require.NoError(t, err)
	r := receipt(t, out)
	assert.Equal(t, core.StatusExecuted, r.Status)
	assert.NotZero(t, r.GasUsed)

	txPath := filepath.Join(dir, "noop.tx")
	_, err = run(t, "tx", "--signer", alice.String(), "--module", core.NewModuleID(core.AddressOf(bob), "sample").String(),
		"--function", "noop", "-o", txPath)
	require.NoError(t, err)

	out, err = run(t, append([]string{"execute", "-f", txPath, "--origin", alice.String()}, node...)...)
	require.NoError(t, err)
	r = receipt(t, out)
	assert.Equal(t, core.StatusExecuted, r.Status)
	assert.Zero(t, r.Fee)
	noopBlock := blockOf(t, out)
	rawTx, err := os.ReadFile(txPath)
	require.NoError(t, err)
	assert.Equal(t, blockID(r.Version, []byte("execute"), alice[:], rawTx), noopBlock)

	failPath := filepath.Join(dir, "fail.tx")
	_, err = run(t, "tx", "--signer", alice.String(), "--module", core.NewModuleID(core.AddressOf(bob), "sample").String(),
		"--function", "fail", "-o", failPath)
	require.NoError(t, err)

	out, err = run(t, append([]string{"execute", "-f", failPath, "--origin", alice.String()}, node...)...)
	require.ErrorIs(t, err, vm.ErrAborted)
	r = receipt(t, out)
	assert.Equal(t, core.StatusAborted, r.Status)
	assert.Equal(t, uint64(7), r.AbortCode)
	assert.Equal(t, r.GasUsed, r.Fee)
	fee := r.Fee
	failBlock := blockOf(t, out)
	assert.NotEqual(t, noopBlock, failBlock)

	// bob owns the module, which is outside the stdlib namespace
	bundlePath := filepath.Join(dir, "std.mvb")
	_, err = run(t, "bundle", modPath, "-o", bundlePath)
	require.NoError(t, err)
	out, err = run(t, append([]string{"update-stdlib", "-f", bundlePath}, node...)...)
	require.ErrorIs(t, err, vm.ErrAddressMismatch)
	assert.Equal(t, core.StatusAddressMismatch, receipt(t, out).Status)
	assert.NotContains(t, out, `"block"`)

	// finalized blocks stay readable after later commits
	n := openTestNode(t, node...)
	handler, err := api.NewHandler(api.NewService(n.vm, query.New(n.ledger, n.vm.Registry(), n.logger), n.logger), prometheus.NewRegistry())
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	assert.Equal(t, uint64(1_000_000), balanceAt(t, srv.URL, noopBlock))
	assert.Equal(t, 1_000_000-fee, balanceAt(t, srv.URL, failBlock))

	_, err = run(t, "query", "balance", alice.String(), "--uri", srv.URL, "--at", ids.GenerateTestID().String())
	assert.Error(t, err)
}

func TestFinalizeBlocks(t *testing.T) {
	dir := t.TempDir()
	genesis := writeFile(t, filepath.Join(dir, "genesis.json"),
		[]byte(`{"balances": {"`+alice.String()+`": 10}}`))
	n := openTestNode(t, "--store.path="+filepath.Join(dir, "ledger"), "--genesis="+genesis, "--log.level=error")

	version := n.ledger.Version()
	require.NotZero(t, version)
	want := blockID(version, ids.Empty[:])

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- finalizeBlocks(ctx, n, nil, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		_, err := n.ledger.Snapshot(want)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	// nothing committed since, so no further block
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, version+1, n.ledger.Version())

	h, err := n.ledger.Snapshot(want)
	require.NoError(t, err)
	b, err := h.Balance(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), b)

	require.NoError(t, finalizeBlocks(context.Background(), n, nil, 0))
}

func TestBuildTransaction(t *testing.T) {
	tx, err := buildTransaction(alice.String(), "0xb0::CarWash", "buy_coin", []string{"u64"}, []string{"0x0a00", "ff"})
	require.NoError(t, err)
	assert.Equal(t, core.AddressOf(alice), tx.Signer)
	assert.Equal(t, core.NewModuleID(core.MustAddress("0xb0"), "CarWash"), tx.Module)
	assert.Equal(t, []core.TypeTag{"u64"}, tx.TypeArgs)
	assert.Equal(t, [][]byte{{0x0a, 0x00}, {0xff}}, tx.Args)

	_, err = buildTransaction("not-an-account", "0xb0::CarWash", "f", nil, nil)
	assert.Error(t, err)
	_, err = buildTransaction(alice.String(), "CarWash", "f", nil, nil)
	assert.Error(t, err)
	_, err = buildTransaction(alice.String(), "0xb0::CarWash", "f", nil, []string{"zz"})
	assert.Error(t, err)
}

func TestBuildPackage(t *testing.T) {
	dir := t.TempDir()
	rawABI, err := json.Marshal(sampleABI())
	require.NoError(t, err)
	codePath := writeFile(t, filepath.Join(dir, "sample.wasm"), sampleCode)
	abiPath := writeFile(t, filepath.Join(dir, "sample.json"), rawABI)

	pkg, err := buildPackage(codePath, abiPath, []string{"0x1::signer"})
	require.NoError(t, err)
	assert.Equal(t, core.NewModuleID(core.AddressOf(bob), "sample"), pkg.ID())
	assert.Equal(t, []core.ModuleID{core.NewModuleID(core.MustAddress("0x1"), "signer")}, pkg.Dependencies)

	_, err = buildPackage(codePath, abiPath, []string{"0x1::signer", "0x1::signer"})
	assert.ErrorIs(t, err, types.ErrMalformed)

	_, err = buildPackage(codePath, codePath, nil)
	assert.Error(t, err)
}

func TestReadGenesis(t *testing.T) {
	dir := t.TempDir()
	pkg := &types.ModulePackage{ABI: sampleABI(), Code: sampleCode}
	raw, err := types.EncodeBundle(&types.Bundle{Modules: []types.ModulePackage{*pkg}})
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, "std.mvb"), raw)

	path := writeFile(t, filepath.Join(dir, "genesis.json"),
		[]byte(`{"balances": {"`+alice.String()+`": 5}, "stdlib": "std.mvb"}`))
	g, err := readGenesis(path)
	require.NoError(t, err)
	assert.Equal(t, map[core.AccountID]uint64{alice: 5}, g.Balances)
	require.NotNil(t, g.Stdlib)
	require.Len(t, g.Stdlib.Modules, 1)
	assert.Equal(t, pkg.ID(), g.Stdlib.Modules[0].ID())

	path = writeFile(t, filepath.Join(dir, "broken.json"), []byte(`{"stdlib": "missing.mvb"}`))
	_, err = readGenesis(path)
	assert.Error(t, err)
}
