// Package client calls the mvm JSON-RPC service
package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/gorilla/rpc/v2/json2"

	"github.com/govm-net/mvm/abi"
	"github.com/govm-net/mvm/api"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/vm"
)

// Client defines mvm client operations
type Client interface {
	// EstimatePublishModule estimates publishing a module from account
	EstimatePublishModule(ctx context.Context, account core.AccountID, bytecode []byte, at *ids.ID) (*vm.Estimation, error)
	// EstimatePublishBundle estimates publishing a bundle from account
	EstimatePublishBundle(ctx context.Context, account core.AccountID, bundle []byte, at *ids.ID) (*vm.Estimation, error)
	// EstimateExecuteScript estimates executing a transaction
	EstimateExecuteScript(ctx context.Context, tx []byte, at *ids.ID) (*vm.Estimation, error)

	// GetResource fetches a resource; found is false when it does not exist
	GetResource(ctx context.Context, account core.AccountID, tag core.TypeTag, at *ids.ID) ([]byte, bool, error)
	// GetModule fetches the package bytes of a module
	GetModule(ctx context.Context, addr core.Address, name string, at *ids.ID) ([]byte, bool, error)
	// GetModuleABI fetches the interface of a module
	GetModuleABI(ctx context.Context, addr core.Address, name string, at *ids.ID) (*abi.ABI, bool, error)
	// GetBalance fetches the native balance of an account
	GetBalance(ctx context.Context, account core.AccountID, at *ids.ID) (uint64, error)
}

// New creates a client for the node listening at uri, e.g. http://127.0.0.1:9650
func New(uri string) Client {
	return &client{endpoint: strings.TrimSuffix(uri, "/") + api.RPCPath, http: http.DefaultClient}
}

type client struct {
	endpoint string
	http     *http.Client
}

func (c *client) call(ctx context.Context, method string, args, reply interface{}) error {
	body, err := json2.EncodeClientRequest(api.ServiceName+"."+method, args)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s request failed with status %s", method, resp.Status)
	}
	return json2.DecodeClientResponse(resp.Body, reply)
}

func encode(b []byte) (string, error) {
	return formatting.Encode(api.Encoding, b)
}

func (c *client) estimate(ctx context.Context, method string, args interface{}) (*vm.Estimation, error) {
	reply := new(vm.Estimation)
	if err := c.call(ctx, method, args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *client) EstimatePublishModule(ctx context.Context, account core.AccountID, bytecode []byte, at *ids.ID) (*vm.Estimation, error) {
	s, err := encode(bytecode)
	if err != nil {
		return nil, err
	}
	return c.estimate(ctx, "EstimateGasPublishModule", &api.EstimatePublishModuleArgs{Account: account, Bytecode: s, At: at})
}

func (c *client) EstimatePublishBundle(ctx context.Context, account core.AccountID, bundle []byte, at *ids.ID) (*vm.Estimation, error) {
	s, err := encode(bundle)
	if err != nil {
		return nil, err
	}
	return c.estimate(ctx, "EstimateGasPublishBundle", &api.EstimatePublishBundleArgs{Account: account, Bundle: s, At: at})
}

func (c *client) EstimateExecuteScript(ctx context.Context, tx []byte, at *ids.ID) (*vm.Estimation, error) {
	s, err := encode(tx)
	if err != nil {
		return nil, err
	}
	return c.estimate(ctx, "EstimateGasExecuteScript", &api.EstimateExecuteScriptArgs{Transaction: s, At: at})
}

func (c *client) GetResource(ctx context.Context, account core.AccountID, tag core.TypeTag, at *ids.ID) ([]byte, bool, error) {
	reply := new(api.GetResourceReply)
	if err := c.call(ctx, "GetResource", &api.GetResourceArgs{Account: account, Tag: tag, At: at}, reply); err != nil {
		return nil, false, err
	}
	if !reply.Found {
		return nil, false, nil
	}
	v, err := formatting.Decode(api.Encoding, reply.Data)
	return v, err == nil, err
}

func (c *client) GetModule(ctx context.Context, addr core.Address, name string, at *ids.ID) ([]byte, bool, error) {
	reply := new(api.GetModuleReply)
	if err := c.call(ctx, "GetModule", &api.GetModuleArgs{Address: addr, Name: name, At: at}, reply); err != nil {
		return nil, false, err
	}
	if !reply.Found {
		return nil, false, nil
	}
	v, err := formatting.Decode(api.Encoding, reply.Bytecode)
	return v, err == nil, err
}

func (c *client) GetModuleABI(ctx context.Context, addr core.Address, name string, at *ids.ID) (*abi.ABI, bool, error) {
	reply := new(api.GetModuleABIReply)
	if err := c.call(ctx, "GetModuleABI", &api.GetModuleArgs{Address: addr, Name: name, At: at}, reply); err != nil {
		return nil, false, err
	}
	return reply.ABI, reply.Found, nil
}

func (c *client) GetBalance(ctx context.Context, account core.AccountID, at *ids.ID) (uint64, error) {
	reply := new(api.GetBalanceReply)
	if err := c.call(ctx, "GetBalance", &api.GetBalanceArgs{Account: account, At: at}, reply); err != nil {
		return 0, err
	}
	return uint64(reply.Balance), nil
}
