package lease

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"nhblease/finance"
	"nhblease/native/common"
	"nhblease/native/dex"
	"nhblease/storage"
)

var stateKey = []byte("state")

type stateKind uint8

const (
	kindRequestLoan stateKind = iota + 1
	kindOpenIca
	kindTransferOut
	kindSwapDelay
	kindSwap
	kindTransferIn
	kindTransferInFinish
	kindDelivery
	kindOpened
	kindPaid
	kindClosed
	kindRetryDelay
)

type taskKind uint8

const (
	taskBuyAsset taskKind = iota + 1
	taskLiquidation
	taskRepaySwap
	taskCloseTransfer
)

// taskRecord is the persisted form of a swap task. Fields not used by Kind
// are zero.
type taskRecord struct {
	Kind    taskKind
	Opening opening
	Account dex.Account
	Lease   Lease
	Amount  finance.Coin
	Cause   string
}

// stateRecord is the single tagged record a lease persists. Fields not used
// by Kind are zero; a delivery nests the record of its inner state.
type stateRecord struct {
	Kind        stateKind
	Opening     opening
	Lease       Lease
	Task        taskRecord
	Out         uint8
	CoinIndex   uint32
	Amount      finance.Coin
	Deadline    finance.Timestamp
	PayloadKind uint8
	Payload     []byte
	Inner       []byte
}

// namedTask is implemented by every lease swap task.
type namedTask interface {
	name() string
}

// tagOf names a state for errors, logs and metrics.
func tagOf(h handler) string {
	switch s := h.(type) {
	case *requestLoan:
		return "request_loan"
	case *dex.IcaConnector[StateResponse]:
		return "open_ica"
	case *dex.TransferOut[StateResponse]:
		return taskName(s.Task()) + "_transfer_out"
	case *dex.EntryDelay[StateResponse]:
		return tagOf(s.Inner()) + "_delay"
	case *dex.SwapExactIn[StateResponse]:
		return taskName(s.Task()) + "_swap"
	case *dex.TransferInInit[StateResponse]:
		return taskName(s.Task()) + "_transfer_in"
	case *dex.TransferInFinish[StateResponse]:
		return taskName(s.Task()) + "_transfer_in_finish"
	case *dex.ResponseDelivery[StateResponse]:
		if s.Kind() == dex.PayloadOpenAck {
			return "ica_open_delivery"
		}
		return "response_delivery"
	case *active:
		return "opened"
	case *paid:
		return "paid"
	case *closed:
		return "closed"
	default:
		return fmt.Sprintf("%T", h)
	}
}

func taskName(t dex.SwapTask[StateResponse]) string {
	if n, ok := t.(namedTask); ok {
		return n.name()
	}
	return fmt.Sprintf("%T", t)
}

func encodeTask(t dex.SwapTask[StateResponse]) (taskRecord, error) {
	switch task := t.(type) {
	case *buyAsset:
		return taskRecord{Kind: taskBuyAsset, Opening: task.opening, Account: task.account}, nil
	case *liquidation:
		return taskRecord{Kind: taskLiquidation, Lease: task.lease, Amount: task.amount, Cause: task.cause}, nil
	case *repaySwap:
		return taskRecord{Kind: taskRepaySwap, Lease: task.lease, Amount: task.payment}, nil
	case *closeTransfer:
		return taskRecord{Kind: taskCloseTransfer, Lease: task.lease}, nil
	default:
		return taskRecord{}, fmt.Errorf("%w: unknown swap task %T", common.ErrInvariant, t)
	}
}

func (r taskRecord) restore() (dex.SwapTask[StateResponse], error) {
	switch r.Kind {
	case taskBuyAsset:
		return &buyAsset{opening: r.Opening, account: r.Account}, nil
	case taskLiquidation:
		return &liquidation{lease: r.Lease, amount: r.Amount, cause: r.Cause}, nil
	case taskRepaySwap:
		return &repaySwap{lease: r.Lease, payment: r.Amount}, nil
	case taskCloseTransfer:
		return &closeTransfer{lease: r.Lease}, nil
	default:
		return nil, fmt.Errorf("%w: unknown swap task kind %d", common.ErrInvariant, r.Kind)
	}
}

func encodeState(h handler) (stateRecord, error) {
	var (
		rec stateRecord
		err error
	)
	switch s := h.(type) {
	case *requestLoan:
		rec = stateRecord{Kind: kindRequestLoan, Opening: s.opening}
	case *dex.IcaConnector[StateResponse]:
		connectee, ok := s.Connectee().(*openIca)
		if !ok {
			return stateRecord{}, fmt.Errorf("%w: unknown connectee %T", common.ErrInvariant, s.Connectee())
		}
		rec = stateRecord{Kind: kindOpenIca, Opening: connectee.opening}
	case *dex.TransferOut[StateResponse]:
		rec = stateRecord{Kind: kindTransferOut, Out: uint8(s.Out()), CoinIndex: s.CoinIndex()}
		rec.Task, err = encodeTask(s.Task())
	case *dex.EntryDelay[StateResponse]:
		switch inner := s.Inner().(type) {
		case *dex.SwapExactIn[StateResponse]:
			rec = stateRecord{Kind: kindSwapDelay, Out: uint8(inner.Out())}
			rec.Task, err = encodeTask(inner.Task())
		case *dex.TransferOut[StateResponse], *dex.TransferInInit[StateResponse]:
			innerRec, ierr := encodeState(inner)
			if ierr != nil {
				return stateRecord{}, ierr
			}
			rec = stateRecord{Kind: kindRetryDelay}
			rec.Inner, err = rlp.EncodeToBytes(&innerRec)
		default:
			return stateRecord{}, fmt.Errorf("%w: delayed %T", common.ErrInvariant, s.Inner())
		}
	case *dex.SwapExactIn[StateResponse]:
		rec = stateRecord{Kind: kindSwap, Out: uint8(s.Out())}
		rec.Task, err = encodeTask(s.Task())
	case *dex.TransferInInit[StateResponse]:
		rec = stateRecord{Kind: kindTransferIn, Amount: s.Amount()}
		rec.Task, err = encodeTask(s.Task())
	case *dex.TransferInFinish[StateResponse]:
		rec = stateRecord{Kind: kindTransferInFinish, Amount: s.Amount(), Deadline: s.Deadline()}
		rec.Task, err = encodeTask(s.Task())
	case *dex.ResponseDelivery[StateResponse]:
		inner, ierr := encodeState(s.Inner())
		if ierr != nil {
			return stateRecord{}, ierr
		}
		rec = stateRecord{Kind: kindDelivery, PayloadKind: uint8(s.Kind()), Payload: s.Payload()}
		rec.Inner, err = rlp.EncodeToBytes(&inner)
	case *active:
		rec = stateRecord{Kind: kindOpened, Lease: s.lease}
	case *paid:
		rec = stateRecord{Kind: kindPaid, Lease: s.lease}
	case *closed:
		rec = stateRecord{Kind: kindClosed}
	default:
		return stateRecord{}, fmt.Errorf("%w: unknown lease state %T", common.ErrInvariant, h)
	}
	if err != nil {
		return stateRecord{}, err
	}
	return rec, nil
}

func decodeState(rec stateRecord) (handler, error) {
	switch rec.Kind {
	case kindRequestLoan:
		return &requestLoan{opening: rec.Opening}, nil
	case kindOpenIca:
		return dex.NewIcaConnector[StateResponse](&openIca{opening: rec.Opening}), nil
	case kindOpened:
		return &active{lease: rec.Lease}, nil
	case kindPaid:
		return &paid{lease: rec.Lease}, nil
	case kindClosed:
		return &closed{}, nil
	case kindDelivery:
		var innerRec stateRecord
		if err := rlp.DecodeBytes(rec.Inner, &innerRec); err != nil {
			return nil, fmt.Errorf("lease: decode delivered state: %w", err)
		}
		inner, err := decodeState(innerRec)
		if err != nil {
			return nil, err
		}
		return dex.RestoreResponseDelivery[StateResponse](dex.PayloadKind(rec.PayloadKind), rec.Payload, inner)
	case kindRetryDelay:
		return decodeRetryDelay(rec)
	}
	task, err := rec.Task.restore()
	if err != nil {
		return nil, err
	}
	out := dex.SwapOut(rec.Out)
	switch rec.Kind {
	case kindTransferOut:
		return dex.RestoreTransferOut[StateResponse](task, out, rec.CoinIndex), nil
	case kindSwapDelay:
		return dex.NewEntryDelay[StateResponse](dex.NewSwapExactIn[StateResponse](task, out), task.TimeAlarm()), nil
	case kindSwap:
		return dex.NewSwapExactIn[StateResponse](task, out), nil
	case kindTransferIn:
		return dex.NewTransferInInit[StateResponse](task, rec.Amount), nil
	case kindTransferInFinish:
		return dex.NewTransferInFinish[StateResponse](task, rec.Amount, rec.Deadline), nil
	default:
		return nil, fmt.Errorf("%w: unknown lease state kind %d", common.ErrInvariant, rec.Kind)
	}
}

// retryable is a transfer step waiting to be entered again after a remote
// error.
type retryable interface {
	dex.Enterable[StateResponse]
	TimeAlarms() dex.TimeAlarms
}

func decodeRetryDelay(rec stateRecord) (handler, error) {
	var innerRec stateRecord
	if err := rlp.DecodeBytes(rec.Inner, &innerRec); err != nil {
		return nil, fmt.Errorf("lease: decode delayed state: %w", err)
	}
	inner, err := decodeState(innerRec)
	if err != nil {
		return nil, err
	}
	step, ok := inner.(retryable)
	if !ok {
		return nil, fmt.Errorf("%w: delayed %T", common.ErrInvariant, inner)
	}
	return dex.NewEntryDelay[StateResponse](step, step.TimeAlarms()), nil
}

func saveState(db storage.Database, h handler) error {
	rec, err := encodeState(h)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return fmt.Errorf("lease: encode state: %w", err)
	}
	return db.Put(stateKey, raw)
}

func loadState(db storage.Database) (handler, error) {
	raw, err := db.Get(stateKey)
	if err != nil {
		return nil, fmt.Errorf("lease: load state: %w", err)
	}
	var rec stateRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return nil, fmt.Errorf("lease: decode state: %w", err)
	}
	return decodeState(rec)
}
