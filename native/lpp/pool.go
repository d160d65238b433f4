package lpp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/platform"
	"nhblease/storage"
)

var (
	ErrNoLiquidity   = errors.New("lpp: no liquidity")
	ErrLoanExists    = errors.New("lpp: the loan exists")
	ErrLoanNotFound  = errors.New("lpp: no such loan")
	ErrNoPayment     = errors.New("lpp: repayment without funds")
	ErrNotConfigured = errors.New("lpp: pool not instantiated")
)

var (
	configKey  = []byte("config")
	loanPrefix = []byte("loan/")
)

type config struct {
	Lpn        string
	AnnualRate finance.Percent
}

type loan struct {
	Principal    finance.Amount
	AnnualRate   finance.Percent
	InterestPaid finance.Timestamp
}

func (l loan) interestBy(by finance.Timestamp) (finance.Amount, error) {
	return l.period(by).InterestBy(l.Principal, by)
}

func (l loan) period(by finance.Timestamp) finance.InterestPeriod {
	return finance.NewInterestPeriod(l.AnnualRate).
		From(l.InterestPaid).
		Spanning(finance.Between(l.InterestPaid, by))
}

// Pool lends a single currency to leases and takes repayments. Interest is
// simple, accrued on the principal since the last time it was fully paid.
type Pool struct{}

var _ platform.Contract = Pool{}

func (Pool) Instantiate(deps platform.Deps, _ platform.Env, _ platform.MessageInfo, raw json.RawMessage) (platform.MessageResponse, error) {
	var msg InstantiateMsg
	if err := decodeJSON(raw, &msg); err != nil {
		return platform.MessageResponse{}, err
	}
	if msg.Lpn == "" {
		return platform.MessageResponse{}, fmt.Errorf("lpp: empty lpn")
	}
	if err := putRLP(deps.Storage, configKey, config{Lpn: msg.Lpn, AnnualRate: msg.AnnualRate}); err != nil {
		return platform.MessageResponse{}, err
	}
	return platform.MessageResponse{}, nil
}

func (p Pool) Execute(deps platform.Deps, env platform.Env, info platform.MessageInfo, raw json.RawMessage) (platform.MessageResponse, error) {
	var msg ExecuteMsg
	if err := decodeJSON(raw, &msg); err != nil {
		return platform.MessageResponse{}, err
	}
	cfg, err := loadConfig(deps.Storage)
	if err != nil {
		return platform.MessageResponse{}, err
	}
	switch {
	case msg.OpenLoan != nil:
		return p.openLoan(deps, env, cfg, info.Sender, msg.OpenLoan.Amount)
	case msg.RepayLoan != nil:
		return p.repayLoan(deps, env, cfg, info)
	default:
		return platform.MessageResponse{}, platform.ErrUnknownMessage
	}
}

func (Pool) openLoan(deps platform.Deps, env platform.Env, cfg config, lease crypto.Address, amount finance.Coin) (platform.MessageResponse, error) {
	if amount.Ticker != cfg.Lpn {
		return platform.MessageResponse{}, fmt.Errorf("%w: pool lends %s", finance.ErrCurrencyMismatch, cfg.Lpn)
	}
	if amount.IsZero() {
		return platform.MessageResponse{}, fmt.Errorf("lpp: zero loan")
	}
	if _, err := loadLoan(deps.Storage, lease); err == nil {
		return platform.MessageResponse{}, ErrLoanExists
	} else if !errors.Is(err, ErrLoanNotFound) {
		return platform.MessageResponse{}, err
	}
	balance, err := deps.Querier.QueryBalance(env.Self, cfg.Lpn)
	if err != nil {
		return platform.MessageResponse{}, err
	}
	if balance.Amount.Lt(amount.Amount) {
		return platform.MessageResponse{}, ErrNoLiquidity
	}
	l := loan{Principal: amount.Amount, AnnualRate: cfg.AnnualRate, InterestPaid: env.Now}
	if err := putRLP(deps.Storage, loanKey(lease), l); err != nil {
		return platform.MessageResponse{}, err
	}
	data, err := json.Marshal(OpenLoanResponse{Principal: amount, AnnualInterestRate: cfg.AnnualRate})
	if err != nil {
		return platform.MessageResponse{}, err
	}
	var b platform.Batch
	b.Schedule(platform.BankSend{To: lease, Amount: []finance.Coin{amount}})
	deps.Log().Info("loan opened", "component", "lpp", "lease", lease.String(), "amount", amount.String())
	return platform.MessageResponse{Messages: b, Data: data}, nil
}

// repayLoan applies the payment to the interest due now and then to the
// principal. Whatever exceeds both is refunded.
func (Pool) repayLoan(deps platform.Deps, env platform.Env, cfg config, info platform.MessageInfo) (platform.MessageResponse, error) {
	if len(info.Funds) != 1 {
		return platform.MessageResponse{}, ErrNoPayment
	}
	payment := info.Funds[0]
	if payment.Ticker != cfg.Lpn {
		return platform.MessageResponse{}, fmt.Errorf("%w: pool lends %s", finance.ErrCurrencyMismatch, cfg.Lpn)
	}
	l, err := loadLoan(deps.Storage, info.Sender)
	if err != nil {
		return platform.MessageResponse{}, err
	}
	period, change, err := l.period(env.Now).Pay(l.Principal, payment.Amount, env.Now)
	if err != nil {
		return platform.MessageResponse{}, err
	}
	l.InterestPaid = period.Start
	principalPaid := change.Min(l.Principal)
	refund, err := change.Sub(principalPaid)
	if err != nil {
		return platform.MessageResponse{}, err
	}
	if l.Principal, err = l.Principal.Sub(principalPaid); err != nil {
		return platform.MessageResponse{}, err
	}
	if l.Principal.IsZero() {
		if err := deps.Storage.Delete(loanKey(info.Sender)); err != nil {
			return platform.MessageResponse{}, err
		}
		deps.Log().Info("loan closed", "component", "lpp", "lease", info.Sender.String())
	} else if err := putRLP(deps.Storage, loanKey(info.Sender), l); err != nil {
		return platform.MessageResponse{}, err
	}
	var b platform.Batch
	if !refund.IsZero() {
		b.Schedule(platform.BankSend{To: info.Sender, Amount: []finance.Coin{finance.CoinOf(refund, cfg.Lpn)}})
	}
	return platform.MessagesOnly(b), nil
}

func (Pool) Sudo(platform.Deps, platform.Env, platform.SudoMsg) (platform.MessageResponse, error) {
	return platform.MessageResponse{}, platform.ErrUnknownMessage
}

func (Pool) Reply(platform.Deps, platform.Env, platform.Reply) (platform.MessageResponse, error) {
	return platform.MessageResponse{}, platform.ErrUnknownMessage
}

func (Pool) Query(deps platform.Deps, env platform.Env, raw json.RawMessage) (json.RawMessage, error) {
	var msg QueryMsg
	if err := decodeJSON(raw, &msg); err != nil {
		return nil, err
	}
	cfg, err := loadConfig(deps.Storage)
	if err != nil {
		return nil, err
	}
	switch {
	case msg.Loan != nil:
		l, err := loadLoan(deps.Storage, msg.Loan.LeaseAddr)
		if errors.Is(err, ErrLoanNotFound) {
			return json.Marshal(nil)
		} else if err != nil {
			return nil, err
		}
		interest, err := l.interestBy(env.Now)
		if err != nil {
			return nil, err
		}
		return json.Marshal(LoanResponse{
			PrincipalDue:       finance.CoinOf(l.Principal, cfg.Lpn),
			InterestDue:        finance.CoinOf(interest, cfg.Lpn),
			AnnualInterestRate: l.AnnualRate,
			InterestPaid:       l.InterestPaid,
		})
	case msg.LoanOutstandingInterest != nil:
		l, err := loadLoan(deps.Storage, msg.LoanOutstandingInterest.LeaseAddr)
		if errors.Is(err, ErrLoanNotFound) {
			return json.Marshal(nil)
		} else if err != nil {
			return nil, err
		}
		interest, err := l.interestBy(msg.LoanOutstandingInterest.OutstandingTime)
		if err != nil {
			return nil, err
		}
		return json.Marshal(OutstandingInterest{Amount: finance.CoinOf(interest, cfg.Lpn)})
	case msg.Balance != nil:
		balance, err := deps.Querier.QueryBalance(env.Self, cfg.Lpn)
		if err != nil {
			return nil, err
		}
		var loans uint64
		err = deps.Storage.Iterate(loanPrefix, func(_, _ []byte) bool {
			loans++
			return true
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(BalanceResponse{Balance: balance, Loans: loans})
	default:
		return nil, platform.ErrUnknownMessage
	}
}

func loanKey(lease crypto.Address) []byte {
	return append(append([]byte(nil), loanPrefix...), lease.Bytes()...)
}

func loadConfig(db storage.Database) (config, error) {
	var cfg config
	if err := getRLP(db, configKey, &cfg); err != nil {
		if storage.IsNotFound(err) {
			return config{}, ErrNotConfigured
		}
		return config{}, err
	}
	return cfg, nil
}

func loadLoan(db storage.Database, lease crypto.Address) (loan, error) {
	var l loan
	if err := getRLP(db, loanKey(lease), &l); err != nil {
		if storage.IsNotFound(err) {
			return loan{}, ErrLoanNotFound
		}
		return loan{}, err
	}
	return l, nil
}

func putRLP(db storage.Database, key []byte, v any) error {
	enc, err := rlp.EncodeToBytes(v)
	if err != nil {
		return err
	}
	return db.Put(key, enc)
}

func getRLP(db storage.Database, key []byte, out any) error {
	raw, err := db.Get(key)
	if err != nil {
		return err
	}
	return rlp.DecodeBytes(raw, out)
}

func decodeJSON(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", platform.ErrUnknownMessage, err)
	}
	return nil
}
