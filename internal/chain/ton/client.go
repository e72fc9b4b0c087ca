// Package ton adapts a TON lite client to the chain contract of the tip
// pipeline: broadcast, receipts, balances and cost estimates.
package ton

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openbuilders/tip-engine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	tonapi "github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
)

// Decimals of the TON base unit.
const Decimals = 9

var ErrNoSigner = errors.New("no signer for address")

type Config struct {
	Testnet bool
	// Comment attached to every transfer.
	Comment string
	// TON has no per-message gas estimation over the lite protocol, the
	// estimates are taken from here.
	GasUnits uint64
	GasPrice decimal.Decimal
	// ScanDepth bounds how many wallet transactions a receipt lookup reads.
	ScanDepth int
	// SeqnoPollInterval is how often a wallet is polled while its previous
	// message is still unprocessed.
	SeqnoPollInterval time.Duration
}

// messageTTL matches the validity window tonutils puts on wallet messages.
// After it a message that never landed can no longer consume its seqno.
const messageTTL = 3 * time.Minute

// signer is a wallet with the seqno of its last submitted message. Sends
// from one wallet are serialized so every message gets the next seqno.
type signer struct {
	wallet *wallet.Wallet
	addr   *address.Address

	mu      sync.Mutex
	sent    bool
	seqno   uint32
	sentAt  time.Time
	pending uint32
}

type Client struct {
	config  *Config
	api     tonapi.APIClientWrapped
	signers map[string]*signer
	mu      sync.RWMutex
	now     func() time.Time
	log     *slog.Logger
}

// Dial connects a lite client pool using the global network config at
// configURL.
func Dial(ctx context.Context, configURL string) (tonapi.APIClientWrapped, error) {
	pool := liteclient.NewConnectionPool()

	if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
		return nil, fmt.Errorf("couldn't connect to lite servers: %w", err)
	}

	return tonapi.NewAPIClient(pool, tonapi.ProofCheckPolicyFast).WithRetry(), nil
}

func New(config *Config, api tonapi.APIClientWrapped) *Client {
	if config.SeqnoPollInterval <= 0 {
		config.SeqnoPollInterval = time.Second
	}

	return &Client{
		config:  config,
		api:     api,
		signers: make(map[string]*signer),
		now:     time.Now,
		log:     slog.With("component", "ton"),
	}
}

// AddSigner registers the v4r2 wallet behind mnemonic and returns its
// address. Transfers can only leave addresses with a signer.
func (c *Client) AddSigner(mnemonic string) (string, error) {
	words := strings.Fields(mnemonic)

	w, err := wallet.FromSeed(c.api, words, wallet.V4R2)
	if err != nil {
		return "", fmt.Errorf("couldn't create wallet from seed: %w", err)
	}

	spec, ok := w.GetSpec().(*wallet.SpecV4R2)
	if !ok {
		return "", fmt.Errorf("unexpected wallet spec %T", w.GetSpec())
	}

	addr := w.WalletAddress().Testnet(c.config.Testnet)
	s := &signer{wallet: w, addr: addr}
	spec.SetSeqnoFetcher(func(ctx context.Context, _ uint32) (uint32, error) {
		return c.nextSeqno(ctx, s)
	})

	c.mu.Lock()
	c.signers[rawKey(addr)] = s
	c.mu.Unlock()

	c.log.Info("signer registered", "address", addr.String())

	return addr.String(), nil
}

func (c *Client) signer(from string) (*signer, error) {
	addr, err := address.ParseAddr(from)
	if err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.signers[rawKey(addr)]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoSigner, from)
	}

	return s, nil
}

// nextSeqno returns the wallet seqno for a new message. While the previous
// message from the wallet is unprocessed and not expired it waits for the
// on-chain seqno to move past it. Called with s.mu held.
func (c *Client) nextSeqno(ctx context.Context, s *signer) (uint32, error) {
	for {
		seqno, err := c.chainSeqno(ctx, s.addr)
		if err != nil {
			return 0, err
		}

		if !s.sent || seqno > s.seqno || c.now().Sub(s.sentAt) > messageTTL {
			s.pending = seqno
			return seqno, nil
		}

		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("previous message with seqno %d is not processed yet: %w", s.seqno, ctx.Err())
		case <-time.After(c.config.SeqnoPollInterval):
		}
	}
}

func (c *Client) chainSeqno(ctx context.Context, addr *address.Address) (uint32, error) {
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("couldn't fetch master chain info: %w", err)
	}

	res, err := c.api.WaitForBlock(block.SeqNo).RunGetMethod(ctx, block, addr, "seqno")
	if err != nil {
		var execErr tonapi.ContractExecError
		if errors.As(err, &execErr) && execErr.Code == tonapi.ErrCodeContractNotInitialized {
			return 0, nil
		}
		return 0, fmt.Errorf("get seqno: %w", err)
	}

	seqno, err := res.Int(0)
	if err != nil {
		return 0, fmt.Errorf("parse seqno: %w", err)
	}

	return uint32(seqno.Uint64()), nil
}

// Broadcast signs a transfer from the sender's wallet and returns once a
// lite server accepted it, without waiting for inclusion. The returned
// reference is the wallet address and the hash of the external message
// body, which is what the wallet transaction records as its inbound
// message.
func (c *Client) Broadcast(ctx context.Context, from, to string, amount decimal.Decimal) (string, error) {
	s, err := c.signer(from)
	if err != nil {
		return "", err
	}

	dst, err := address.ParseAddr(to)
	if err != nil {
		return "", fmt.Errorf("invalid destination address: %w", err)
	}

	coins, err := tlb.FromTON(amount.StringFixed(Decimals))
	if err != nil {
		return "", fmt.Errorf("invalid amount %s: %w", amount, err)
	}

	msg, err := s.wallet.BuildTransfer(dst, coins, dst.IsBounceable(), c.config.Comment)
	if err != nil {
		return "", fmt.Errorf("wallet build internal message error: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ext, err := s.wallet.BuildExternalMessageForMany(ctx, []*wallet.Message{msg})
	if err != nil {
		return "", fmt.Errorf("wallet build external message error: %w", err)
	}

	if err := c.api.SendExternalMessage(ctx, ext); err != nil {
		return "", fmt.Errorf("transfer error: %w", err)
	}

	s.sent, s.seqno, s.sentAt = true, s.pending, c.now()

	ref := TxRef{Wallet: from, MsgHash: ext.Body.Hash()}

	c.log.Debug("transfer sent", "from", from, "to", to, "amount", amount,
		"seqno", s.seqno, "ref", ref.String())

	return ref.String(), nil
}

// Receipt looks up the wallet transaction that processed the referenced
// message. It returns nil while the message is not processed yet.
func (c *Client) Receipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	ref, err := ParseTxRef(txHash)
	if err != nil {
		return nil, err
	}

	addr, err := address.ParseAddr(ref.Wallet)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet in reference: %w", err)
	}

	tx, err := c.api.FindLastTransactionByInMsgHash(ctx, addr, ref.MsgHash, c.config.ScanDepth)
	if errors.Is(err, tonapi.ErrTxWasNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transaction lookup: %w", err)
	}

	receipt := &types.Receipt{
		Status:      types.ReceiptSuccess,
		BlockNumber: tx.LT,
		GasUsed:     tx.TotalFees.Coins.String(),
	}

	if ordinary, ok := tx.Description.(tlb.TransactionDescriptionOrdinary); ok && ordinary.Aborted {
		receipt.Status = types.ReceiptReverted
	}

	return receipt, nil
}

// Balance returns the balance of an address in TON. Inactive accounts have
// a zero balance.
func (c *Client) Balance(ctx context.Context, addr string) (decimal.Decimal, error) {
	parsed, err := address.ParseAddr(addr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid address: %w", err)
	}

	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("couldn't fetch master chain info: %w", err)
	}

	account, err := c.api.GetAccount(ctx, block, parsed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("couldn't fetch account: %w", err)
	}

	if !account.IsActive || account.State == nil {
		return decimal.Zero, nil
	}

	return decimal.NewFromBigInt(account.State.Balance.Nano(), -Decimals), nil
}

func (c *Client) GasEstimate(ctx context.Context, from, to string, amount decimal.Decimal) (uint64, error) {
	return c.config.GasUnits, nil
}

// GasPrice is in nanotons per gas unit.
func (c *Client) GasPrice(ctx context.Context) (decimal.Decimal, error) {
	return c.config.GasPrice, nil
}

// Ping checks that a lite server answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.CurrentMasterchainInfo(ctx)
	return err
}

// TxRef points at an external message sent to a wallet.
type TxRef struct {
	Wallet  string
	MsgHash []byte
}

func (r TxRef) String() string {
	return r.Wallet + ":" + hex.EncodeToString(r.MsgHash)
}

func ParseTxRef(s string) (TxRef, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return TxRef{}, fmt.Errorf("malformed transaction reference %q", s)
	}

	hash, err := hex.DecodeString(s[i+1:])
	if err != nil {
		return TxRef{}, fmt.Errorf("malformed transaction hash: %w", err)
	}

	return TxRef{Wallet: s[:i], MsgHash: hash}, nil
}

// rawKey identifies an address independently of its user friendly flags.
func rawKey(addr *address.Address) string {
	return fmt.Sprintf("%d:%x", addr.Workchain(), addr.Data())
}
