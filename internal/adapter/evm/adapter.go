// Package evm implements the execution adapter against EVM yield vaults. One
// adapter instance serves one chain; protocols map to vault contract
// addresses exposing a common deposit/withdraw/claim interface.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

// vaultABIJSON is the shared vault interface all supported protocols expose
// through their adapters on-chain.
const vaultABIJSON = `[
	{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"name":"claimRewards","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[{"name":"claimed","type":"uint256"}]},
	{"name":"pendingRewards","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// Config holds the chain connection and vault registry.
type Config struct {
	RPCURL  string
	ChainID int64
	// Vaults maps protocol name to vault contract address (hex).
	Vaults map[string]string
	// NativeAsset is the gas token symbol used to price gas in USD.
	NativeAsset string
	GasLimit    uint64
	// ConfirmTimeout bounds the wait for a transaction receipt.
	ConfirmTimeout time.Duration
}

// Adapter implements domain.ExecutionAdapter and domain.BalanceProvider
// against a single EVM chain. Wallet-level nonce sequencing is serialized
// internally; cross-instance serialization uses the injected lock manager.
type Adapter struct {
	cfg      Config
	client   *ethclient.Client
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	vaultABI abi.ABI
	vaults   map[string]common.Address
	provider domain.MarketDataProvider // prices gas in USD
	locks    domain.LockManager        // optional, cross-instance wallet lock
	logger   *slog.Logger

	nonceMu sync.Mutex
}

// New dials the RPC endpoint and prepares the adapter. privateKeyHex is the
// decrypted signing key, without 0x prefix.
func New(ctx context.Context, cfg Config, privateKeyHex string, provider domain.MarketDataProvider, locks domain.LockManager, logger *slog.Logger) (*Adapter, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", cfg.RPCURL, err)
	}

	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("evm: invalid private key: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(vaultABIJSON))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("evm: parse vault abi: %w", err)
	}

	vaults := make(map[string]common.Address, len(cfg.Vaults))
	for protocol, addr := range cfg.Vaults {
		if !common.IsHexAddress(addr) {
			client.Close()
			return nil, fmt.Errorf("evm: protocol %s has invalid vault address %q", protocol, addr)
		}
		vaults[protocol] = common.HexToAddress(addr)
	}

	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 400_000
	}

	return &Adapter{
		cfg:      cfg,
		client:   client,
		key:      key,
		from:     ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(cfg.ChainID),
		vaultABI: parsed,
		vaults:   vaults,
		provider: provider,
		locks:    locks,
		logger:   logger.With(slog.String("component", "evm_adapter")),
	}, nil
}

// Close releases the RPC connection.
func (a *Adapter) Close() {
	a.client.Close()
}

// Stake deposits amount into the protocol's vault.
func (a *Adapter) Stake(ctx context.Context, protocol, asset string, amount float64, wallet string) (domain.Receipt, error) {
	return a.send(ctx, protocol, wallet, "deposit", toWei(amount))
}

// Withdraw pulls amount of principal back out of the protocol's vault.
func (a *Adapter) Withdraw(ctx context.Context, protocol, asset string, amount float64, wallet string) (domain.Receipt, error) {
	return a.send(ctx, protocol, wallet, "withdraw", toWei(amount))
}

// ClaimRewards claims all pending rewards for the position's wallet and
// returns the claimed amount.
func (a *Adapter) ClaimRewards(ctx context.Context, protocol string, pos domain.Position) (float64, domain.Receipt, error) {
	vault, ok := a.vaults[protocol]
	if !ok {
		return 0, domain.Receipt{}, fmt.Errorf("evm: no vault registered for protocol %s", protocol)
	}

	// Read the pending amount first so the claimed value is known even when
	// the vault does not emit it in a log we parse.
	pending, err := a.pendingRewards(ctx, vault, pos.Wallet)
	if err != nil {
		return 0, domain.Receipt{}, err
	}

	receipt, err := a.send(ctx, protocol, pos.Wallet, "claimRewards")
	if err != nil {
		return 0, domain.Receipt{}, err
	}
	return pending, receipt, nil
}

// Balance reports the wallet's native balance in USD terms.
func (a *Adapter) Balance(ctx context.Context, wallet string) (float64, error) {
	if !common.IsHexAddress(wallet) {
		return 0, fmt.Errorf("evm: invalid wallet address %q", wallet)
	}
	bal, err := a.client.BalanceAt(ctx, common.HexToAddress(wallet), nil)
	if err != nil {
		return 0, fmt.Errorf("evm: balance of %s: %w", wallet, err)
	}
	price, err := a.provider.GetPrice(ctx, a.cfg.NativeAsset)
	if err != nil {
		return 0, err
	}
	return fromWei(bal) * price, nil
}

// GasPrice reports the suggested gas price in gwei.
func (a *Adapter) GasPrice(ctx context.Context) (float64, error) {
	gp, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("evm: suggest gas price: %w", err)
	}
	gwei := new(big.Float).Quo(new(big.Float).SetInt(gp), big.NewFloat(1e9))
	out, _ := gwei.Float64()
	return out, nil
}

func (a *Adapter) pendingRewards(ctx context.Context, vault common.Address, wallet string) (float64, error) {
	data, err := a.vaultABI.Pack("pendingRewards", common.HexToAddress(wallet))
	if err != nil {
		return 0, fmt.Errorf("evm: pack pendingRewards: %w", err)
	}
	res, err := a.client.CallContract(ctx, callMsg(vault, data), nil)
	if err != nil {
		return 0, fmt.Errorf("evm: call pendingRewards: %w", err)
	}
	vals, err := a.vaultABI.Unpack("pendingRewards", res)
	if err != nil {
		return 0, fmt.Errorf("evm: unpack pendingRewards: %w", err)
	}
	amount, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("evm: pendingRewards returned unexpected type %T", vals[0])
	}
	return fromWei(amount), nil
}

// send signs, submits, and waits out one vault transaction. The wallet lock
// covers the whole round trip so concurrent engine instances cannot race on
// the nonce.
func (a *Adapter) send(ctx context.Context, protocol, wallet, method string, args ...interface{}) (domain.Receipt, error) {
	vault, ok := a.vaults[protocol]
	if !ok {
		return domain.Receipt{}, fmt.Errorf("evm: no vault registered for protocol %s", protocol)
	}

	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, "wallet:"+strings.ToLower(wallet), a.cfg.ConfirmTimeout)
		if err != nil {
			return domain.Receipt{}, fmt.Errorf("evm: wallet lock: %w", err)
		}
		defer unlock()
	}

	data, err := a.vaultABI.Pack(method, args...)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("evm: pack %s: %w", method, err)
	}

	a.nonceMu.Lock()
	nonce, err := a.client.PendingNonceAt(ctx, a.from)
	if err != nil {
		a.nonceMu.Unlock()
		return domain.Receipt{}, fmt.Errorf("evm: pending nonce: %w", err)
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		a.nonceMu.Unlock()
		return domain.Receipt{}, fmt.Errorf("evm: suggest gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, vault, big.NewInt(0), a.cfg.GasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(a.chainID), a.key)
	if err != nil {
		a.nonceMu.Unlock()
		return domain.Receipt{}, fmt.Errorf("evm: sign tx: %w", err)
	}
	err = a.client.SendTransaction(ctx, signed)
	a.nonceMu.Unlock()
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("evm: send %s: %w", method, err)
	}

	a.logger.Info("transaction submitted",
		slog.String("method", method),
		slog.String("protocol", protocol),
		slog.String("tx", signed.Hash().Hex()),
	)

	waitCtx, cancel := context.WithTimeout(ctx, a.cfg.ConfirmTimeout)
	defer cancel()
	rcpt, err := bind.WaitMined(waitCtx, a.client, signed)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("evm: wait mined %s: %w", signed.Hash().Hex(), err)
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return domain.Receipt{
			TxHash: signed.Hash().Hex(),
			Status: domain.ReceiptStatusFailed,
		}, fmt.Errorf("evm: tx %s reverted", signed.Hash().Hex())
	}

	return domain.Receipt{
		TxHash:  signed.Hash().Hex(),
		Status:  domain.ReceiptStatusConfirmed,
		GasUsed: a.gasCostUSD(ctx, rcpt.GasUsed, gasPrice),
	}, nil
}

// gasCostUSD converts a receipt's gas usage into USD. A missing native price
// degrades to zero cost rather than failing a confirmed transaction.
func (a *Adapter) gasCostUSD(ctx context.Context, gasUsed uint64, gasPrice *big.Int) float64 {
	cost := new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), gasPrice)
	price, err := a.provider.GetPrice(ctx, a.cfg.NativeAsset)
	if err != nil {
		a.logger.Warn("native price unavailable, gas cost recorded as zero",
			slog.String("asset", a.cfg.NativeAsset),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return fromWei(cost) * price
}

func callMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}

// All supported vaults normalize amounts to 18 decimals.

func toWei(amount float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(1e18))
	out, _ := f.Int(nil)
	return out
}

func fromWei(v *big.Int) float64 {
	f := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(1e18))
	out, _ := f.Float64()
	return out
}

// Compile-time interface checks.
var (
	_ domain.ExecutionAdapter = (*Adapter)(nil)
	_ domain.BalanceProvider  = (*Adapter)(nil)
)
