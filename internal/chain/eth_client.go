package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/claimerr"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/contracts"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/eligibility"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/grant"
)

// EthClient reads and writes the ReputationCard contract over JSON-RPC.
type EthClient struct {
	client    *ethclient.Client
	contract  *bind.BoundContract
	registry  *bind.BoundContract
	abi       abi.ABI
	erc20     abi.ABI
	address   common.Address
	chainID   *big.Int
	transacts *bind.TransactOpts

	receiptPoll time.Duration
}

type EthClientConfig struct {
	RPCURL          string
	ContractAddress string
	// ProfileRegistryAddress is optional; without it HasProfile fails and
	// profile-required templates cannot be served.
	ProfileRegistryAddress string
	// PrivateKeyHex is optional; without it the client is read-only and
	// ClaimCard fails.
	PrivateKeyHex string
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("card contract address is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(contracts.ReputationCardABI))
	if err != nil {
		return nil, fmt.Errorf("parse card abi: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(contracts.ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	bound := bind.NewBoundContract(address, parsedABI, cli, cli, cli)

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	c := &EthClient{
		client:      cli,
		contract:    bound,
		abi:         parsedABI,
		erc20:       erc20ABI,
		address:     address,
		chainID:     chainID,
		receiptPoll: 2 * time.Second,
	}

	if cfg.ProfileRegistryAddress != "" {
		if !common.IsHexAddress(cfg.ProfileRegistryAddress) {
			return nil, fmt.Errorf("profile registry address %q is not an address", cfg.ProfileRegistryAddress)
		}
		registryABI, err := abi.JSON(strings.NewReader(contracts.ProfileRegistryABI))
		if err != nil {
			return nil, fmt.Errorf("parse registry abi: %w", err)
		}
		c.registry = bind.NewBoundContract(common.HexToAddress(cfg.ProfileRegistryAddress), registryABI, cli, cli, cli)
	}

	if cfg.PrivateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		txOpts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, fmt.Errorf("transactor: %w", err)
		}
		txOpts.GasLimit = 0 // let node estimate
		c.transacts = txOpts
	}

	return c, nil
}

func (c *EthClient) ChainID() *big.Int            { return c.chainID }
func (c *EthClient) ContractAddr() common.Address { return c.address }

func (c *EthClient) Template(ctx context.Context, templateID *big.Int) (eligibility.Template, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "templates", templateID)
	if err != nil {
		return eligibility.Template{}, classify(err, "read template")
	}
	if len(out) != 7 {
		return eligibility.Template{}, fmt.Errorf("templates(%s): unexpected tuple arity %d", templateID, len(out))
	}
	return eligibility.Template{
		ID:            new(big.Int).Set(templateID),
		Issuer:        out[0].(common.Address),
		MaxSupply:     out[1].(*big.Int).Uint64(),
		CurrentSupply: out[2].(*big.Int).Uint64(),
		Tier:          out[3].(*big.Int).Int64(),
		StartTime:     out[4].(*big.Int).Uint64(),
		EndTime:       out[5].(*big.Int).Uint64(),
		Paused:        out[6].(bool),
	}, nil
}

func (c *EthClient) HasProfileClaimed(ctx context.Context, templateID, profileID *big.Int) (bool, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "hasProfileClaimed", templateID, profileID)
	if err != nil {
		return false, classify(err, "read claim flag")
	}
	return out[0].(bool), nil
}

// HasProfile reads the ProfileRegistry, for the profile-required
// eligibility mode.
func (c *EthClient) HasProfile(ctx context.Context, owner common.Address) (bool, error) {
	if c.registry == nil {
		return false, fmt.Errorf("profile registry address not configured")
	}
	var out []interface{}
	if err := c.registry.Call(&bind.CallOpts{Context: ctx}, &out, "hasProfile", owner); err != nil {
		return false, classify(err, "read profile flag")
	}
	return out[0].(bool), nil
}

// TokenBalance reads balanceOf on an arbitrary ERC-20, for the
// token-holder eligibility mode.
func (c *EthClient) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	bound := bind.NewBoundContract(token, c.erc20, c.client, c.client, c.client)
	var out []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", holder); err != nil {
		return nil, classify(err, "read token balance")
	}
	return out[0].(*big.Int), nil
}

func (c *EthClient) ClaimCard(ctx context.Context, g grant.ClaimGrant, sigHex string) (ClaimResult, error) {
	if c.transacts == nil {
		return ClaimResult{}, fmt.Errorf("client is read-only")
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return ClaimResult{}, claimerr.MalformedLink("signature is not hex")
	}

	opts := *c.transacts
	opts.Context = ctx

	tx, err := c.contract.Transact(&opts, "claimCard",
		g.User, g.ProfileOwner, g.TemplateID, g.Nonce, g.TokenURI, sig)
	if err != nil {
		return ClaimResult{}, classify(err, "submit claim")
	}
	return ClaimResult{TxHash: tx.Hash().Hex()}, nil
}

// AwaitClaim polls for the receipt of an already-broadcast claim. It never
// resubmits; once a hash exists the chain resolves the transaction on its
// own.
func (c *EthClient) AwaitClaim(ctx context.Context, txHash string) (ClaimReceipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if receipt != nil {
			if receipt.Status == 0 {
				return ClaimReceipt{}, claimerr.ChainRevert("claim transaction reverted")
			}
			out := ClaimReceipt{TxHash: txHash}
			for _, lg := range receipt.Logs {
				if decoded, ok := c.decodeCardIssued(*lg); ok {
					decoded.TxHash = txHash
					out = decoded
					break
				}
			}
			return out, nil
		}
		if err != nil && !strings.Contains(err.Error(), "not found") {
			return ClaimReceipt{}, claimerr.Network(err)
		}
		select {
		case <-ctx.Done():
			return ClaimReceipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CardIssuedSince scans CardIssued logs after fromBlock. Direct issuer
// mints never pass through this service's write path, so the syncer folds
// them into the mirror from here.
func (c *EthClient) CardIssuedSince(ctx context.Context, fromBlock uint64) ([]ClaimReceipt, uint64, error) {
	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return nil, fromBlock, claimerr.Network(fmt.Errorf("read head: %w", err))
	}
	if head <= fromBlock {
		return nil, fromBlock, nil
	}

	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock + 1),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{c.abi.Events["CardIssued"].ID}},
	})
	if err != nil {
		return nil, fromBlock, claimerr.Network(fmt.Errorf("filter logs: %w", err))
	}

	receipts := make([]ClaimReceipt, 0, len(logs))
	for _, lg := range logs {
		if decoded, ok := c.decodeCardIssued(lg); ok {
			decoded.TxHash = lg.TxHash.Hex()
			receipts = append(receipts, decoded)
		}
	}
	return receipts, head, nil
}

func (c *EthClient) decodeCardIssued(lg types.Log) (ClaimReceipt, bool) {
	event := c.abi.Events["CardIssued"]
	if len(lg.Topics) < 3 || lg.Topics[0] != event.ID {
		return ClaimReceipt{}, false
	}
	// cardId and to are not indexed; they arrive in the data segment.
	vals := make(map[string]interface{})
	if err := c.abi.UnpackIntoMap(vals, "CardIssued", lg.Data); err != nil {
		return ClaimReceipt{}, false
	}
	out := ClaimReceipt{
		TemplateID: new(big.Int).SetBytes(lg.Topics[1].Bytes()),
		ProfileID:  new(big.Int).SetBytes(lg.Topics[2].Bytes()),
	}
	if cardID, isBig := vals["cardId"].(*big.Int); isBig {
		out.CardID = cardID.Uint64()
	}
	if to, isAddr := vals["to"].(common.Address); isAddr {
		out.To = to
	}
	return out, true
}

func (c *EthClient) Ping(ctx context.Context) error {
	_, err := c.client.BlockNumber(ctx)
	return err
}

// classify splits chain errors into contract reverts (terminal, with the
// decoded reason) and everything else (assumed transient).
func classify(err error, op string) error {
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted"); idx >= 0 {
		reason := strings.TrimSpace(strings.TrimPrefix(msg[idx+len("execution reverted"):], ":"))
		if reason == "" {
			reason = "execution reverted"
		}
		return claimerr.ChainRevert(reason)
	}
	return claimerr.Network(fmt.Errorf("%s: %w", op, err))
}
