package oracle

import (
	"bytes"
	"encoding/binary"
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
	ErrNoPrice       = errors.New("oracle: no price")
	ErrNoPath        = errors.New("oracle: no swap path")
	ErrUnauthorized  = errors.New("oracle: unauthorized feeder")
	ErrNotConfigured = errors.New("oracle: not instantiated")
)

var (
	configKey     = []byte("config")
	seqKey        = []byte("seq")
	pricePrefix   = []byte("price/")
	alarmPrefix   = []byte("alarm/")
	pendingPrefix = []byte("pending/")
)

type config struct {
	BaseCurrency string
	Feeder       crypto.Address
	SwapTree     []SwapLeg
}

// pending is an alarm out for delivery.
type pending struct {
	Subscriber crypto.Address
	Alarm      finance.Price
}

// Oracle keeps the latest fed price of each currency and notifies
// subscribers when a price drops under their alarm. An alarm stays
// subscribed until its delivery succeeds.
type Oracle struct{}

var _ platform.Contract = Oracle{}

func (Oracle) Instantiate(deps platform.Deps, _ platform.Env, _ platform.MessageInfo, raw json.RawMessage) (platform.MessageResponse, error) {
	var msg InstantiateMsg
	if err := decodeJSON(raw, &msg); err != nil {
		return platform.MessageResponse{}, err
	}
	if msg.BaseCurrency == "" {
		return platform.MessageResponse{}, fmt.Errorf("oracle: empty base currency")
	}
	cfg := config{BaseCurrency: msg.BaseCurrency, Feeder: msg.Feeder, SwapTree: msg.SwapTree}
	return platform.MessageResponse{}, putRLP(deps.Storage, configKey, cfg)
}

func (o Oracle) Execute(deps platform.Deps, env platform.Env, info platform.MessageInfo, raw json.RawMessage) (platform.MessageResponse, error) {
	var msg ExecuteMsg
	if err := decodeJSON(raw, &msg); err != nil {
		return platform.MessageResponse{}, err
	}
	cfg, err := loadConfig(deps.Storage)
	if err != nil {
		return platform.MessageResponse{}, err
	}
	switch {
	case msg.FeedPrices != nil:
		if info.Sender != cfg.Feeder {
			return platform.MessageResponse{}, ErrUnauthorized
		}
		return o.feed(deps, env, cfg, msg.FeedPrices.Prices)
	case msg.AddPriceAlarm != nil:
		below := msg.AddPriceAlarm.Below
		if below.Quote.Ticker != cfg.BaseCurrency || below.Base.IsZero() || below.Quote.IsZero() {
			return platform.MessageResponse{}, fmt.Errorf("%w: alarm %s", finance.ErrInvalidPrice, below)
		}
		return platform.MessageResponse{}, putRLP(deps.Storage, alarmKey(info.Sender), below)
	case msg.RemovePriceAlarm != nil:
		return platform.MessageResponse{}, deps.Storage.Delete(alarmKey(info.Sender))
	default:
		return platform.MessageResponse{}, platform.ErrUnknownMessage
	}
}

func (Oracle) feed(deps platform.Deps, env platform.Env, cfg config, prices []finance.Price) (platform.MessageResponse, error) {
	for _, p := range prices {
		if p.Quote.Ticker != cfg.BaseCurrency {
			return platform.MessageResponse{}, fmt.Errorf("%w: %s not quoted in %s", finance.ErrInvalidPrice, p, cfg.BaseCurrency)
		}
		if _, err := finance.NewPrice(p.Base, p.Quote); err != nil {
			return platform.MessageResponse{}, err
		}
		if err := putRLP(deps.Storage, priceKey(p.Base.Ticker), p); err != nil {
			return platform.MessageResponse{}, err
		}
	}

	inDelivery := make(map[crypto.Address]bool)
	err := deps.Storage.Iterate(pendingPrefix, func(_, value []byte) bool {
		var p pending
		if rlp.DecodeBytes(value, &p) == nil {
			inDelivery[p.Subscriber] = true
		}
		return true
	})
	if err != nil {
		return platform.MessageResponse{}, err
	}

	type fired struct {
		subscriber crypto.Address
		alarm      finance.Price
	}
	var due []fired
	var iterErr error
	err = deps.Storage.Iterate(alarmPrefix, func(key, value []byte) bool {
		subscriber := crypto.NewAddress(crypto.AccountPrefix, key[len(alarmPrefix):])
		if inDelivery[subscriber] {
			return true
		}
		var below finance.Price
		if iterErr = rlp.DecodeBytes(value, &below); iterErr != nil {
			return false
		}
		current, err := loadPrice(deps.Storage, below.Base.Ticker)
		if errors.Is(err, ErrNoPrice) {
			return true
		} else if err != nil {
			iterErr = err
			return false
		}
		less, err := current.Less(below)
		if err != nil {
			iterErr = err
			return false
		}
		if less {
			due = append(due, fired{subscriber: subscriber, alarm: below})
		}
		return true
	})
	if err == nil {
		err = iterErr
	}
	if err != nil {
		return platform.MessageResponse{}, err
	}

	var b platform.Batch
	for _, f := range due {
		id, err := nextSeq(deps.Storage)
		if err != nil {
			return platform.MessageResponse{}, err
		}
		if err := putRLP(deps.Storage, pendingKey(id), pending{Subscriber: f.subscriber, Alarm: f.alarm}); err != nil {
			return platform.MessageResponse{}, err
		}
		exec, err := platform.NewExecute(f.subscriber, PriceAlarmMsg{})
		if err != nil {
			return platform.MessageResponse{}, err
		}
		b.ScheduleReplyAlways(exec, id)
	}
	if len(due) > 0 {
		deps.Log().Info("price alarms fired", "component", "oracle", "count", len(due), "at", env.Now.String())
	}
	return platform.MessagesWithEvent(b, platform.NewEmitter(EventFeedPrices).
		EmitTxInfo(env).
		EmitUint("prices", uint64(len(prices))).
		EmitUint("alarms", uint64(len(due)))), nil
}

// Reply settles a delivered alarm. A subscriber that re-subscribed while
// handling the alarm keeps its new subscription; a failed delivery keeps the
// old one for the next feed.
func (Oracle) Reply(deps platform.Deps, _ platform.Env, reply platform.Reply) (platform.MessageResponse, error) {
	var p pending
	if err := getRLP(deps.Storage, pendingKey(reply.ID), &p); err != nil {
		return platform.MessageResponse{}, fmt.Errorf("oracle: reply %d: %w", reply.ID, err)
	}
	if err := deps.Storage.Delete(pendingKey(reply.ID)); err != nil {
		return platform.MessageResponse{}, err
	}
	if !reply.Result.IsOk() {
		deps.Log().Warn("price alarm delivery failed", "component", "oracle",
			"subscriber", p.Subscriber.String(), "error", reply.Result.Err)
		return platform.MessageResponse{}, nil
	}
	var current finance.Price
	err := getRLP(deps.Storage, alarmKey(p.Subscriber), &current)
	if storage.IsNotFound(err) {
		return platform.MessageResponse{}, nil
	} else if err != nil {
		return platform.MessageResponse{}, err
	}
	if current == p.Alarm {
		return platform.MessageResponse{}, deps.Storage.Delete(alarmKey(p.Subscriber))
	}
	return platform.MessageResponse{}, nil
}

func (Oracle) Sudo(platform.Deps, platform.Env, platform.SudoMsg) (platform.MessageResponse, error) {
	return platform.MessageResponse{}, platform.ErrUnknownMessage
}

func (Oracle) Query(deps platform.Deps, _ platform.Env, raw json.RawMessage) (json.RawMessage, error) {
	var msg QueryMsg
	if err := decodeJSON(raw, &msg); err != nil {
		return nil, err
	}
	cfg, err := loadConfig(deps.Storage)
	if err != nil {
		return nil, err
	}
	switch {
	case msg.Price != nil:
		if msg.Price.Currency == cfg.BaseCurrency {
			return json.Marshal(finance.Identity(cfg.BaseCurrency))
		}
		price, err := loadPrice(deps.Storage, msg.Price.Currency)
		if err != nil {
			return nil, err
		}
		return json.Marshal(price)
	case msg.SwapPath != nil:
		routes, err := swapPath(cfg, msg.SwapPath.From, msg.SwapPath.To)
		if err != nil {
			return nil, err
		}
		return json.Marshal(SwapPathResponse{Routes: routes})
	default:
		return nil, platform.ErrUnknownMessage
	}
}

// swapPath returns the direct pool between two currencies or, failing that,
// the two hops through the base currency.
func swapPath(cfg config, from, to string) ([]platform.SwapRoute, error) {
	if from == to {
		return nil, fmt.Errorf("%w: %s to itself", ErrNoPath, from)
	}
	if route, ok := directRoute(cfg, from, to); ok {
		out, err := route.withDenom(to)
		if err != nil {
			return nil, err
		}
		return []platform.SwapRoute{out}, nil
	}
	first, ok1 := directRoute(cfg, from, cfg.BaseCurrency)
	second, ok2 := directRoute(cfg, cfg.BaseCurrency, to)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: %s to %s", ErrNoPath, from, to)
	}
	hop1, err := first.withDenom(cfg.BaseCurrency)
	if err != nil {
		return nil, err
	}
	hop2, err := second.withDenom(to)
	if err != nil {
		return nil, err
	}
	return []platform.SwapRoute{hop1, hop2}, nil
}

type leg struct{ pool uint64 }

func (l leg) withDenom(ticker string) (platform.SwapRoute, error) {
	cur, err := finance.Registry().ByTicker(ticker)
	if err != nil {
		return platform.SwapRoute{}, err
	}
	return platform.SwapRoute{PoolID: l.pool, TokenOutDenom: cur.DexSymbol}, nil
}

func directRoute(cfg config, from, to string) (leg, bool) {
	for _, l := range cfg.SwapTree {
		if (l.From == from && l.To == to) || (l.From == to && l.To == from) {
			return leg{pool: l.PoolID}, true
		}
	}
	return leg{}, false
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

func loadPrice(db storage.Database, ticker string) (finance.Price, error) {
	var p finance.Price
	if err := getRLP(db, priceKey(ticker), &p); err != nil {
		if storage.IsNotFound(err) {
			return finance.Price{}, fmt.Errorf("%w: %s", ErrNoPrice, ticker)
		}
		return finance.Price{}, err
	}
	return p, nil
}

func nextSeq(db storage.Database) (uint64, error) {
	var seq uint64
	raw, err := db.Get(seqKey)
	if err == nil && len(raw) == 8 {
		seq = binary.BigEndian.Uint64(raw)
	} else if err != nil && !storage.IsNotFound(err) {
		return 0, err
	}
	seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return seq, db.Put(seqKey, buf[:])
}

func priceKey(ticker string) []byte {
	return append(append([]byte(nil), pricePrefix...), ticker...)
}

func alarmKey(subscriber crypto.Address) []byte {
	return append(append([]byte(nil), alarmPrefix...), subscriber.Bytes()...)
}

func pendingKey(id uint64) []byte {
	key := append([]byte(nil), pendingPrefix...)
	return binary.BigEndian.AppendUint64(key, id)
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
