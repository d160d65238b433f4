package timealarms

import (
	"encoding/binary"
	"errors"
	"fmt"

	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/storage"
)

// ErrEmptyDeliveryQueue is returned when a delivery outcome arrives with no
// alarm out for delivery.
var ErrEmptyDeliveryQueue = errors.New("timealarms: reply on an empty delivery queue")

var (
	subscriberPrefix = []byte("alarms/")
	indexPrefix      = []byte("alarms_idx/")
	deliveryPrefix   = []byte("in_delivery/")
	deliveryHeadKey  = []byte("in_delivery_head")
	deliveryTailKey  = []byte("in_delivery_tail")
)

// Entry is a due alarm.
type Entry struct {
	Subscriber crypto.Address
	// Seconds is the alarm time truncated to whole seconds.
	Seconds uint64
}

// Alarms is a persisted index of one alarm per subscriber, ordered by time,
// and a FIFO of alarms out for delivery. An alarm is either in the index or
// in the delivery queue, never both.
type Alarms struct {
	db storage.Database
}

func NewAlarms(db storage.Database) *Alarms {
	return &Alarms{db: db}
}

// Add subscribes subscriber at the given time, replacing its previous alarm.
func (a *Alarms) Add(subscriber crypto.Address, at finance.Timestamp) error {
	return a.add(subscriber, at.Seconds())
}

func (a *Alarms) add(subscriber crypto.Address, secs uint64) error {
	if err := a.Remove(subscriber); err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], secs)
	if err := a.db.Put(subscriberKey(subscriber), buf[:]); err != nil {
		return err
	}
	return a.db.Put(indexKey(secs, subscriber), []byte{})
}

// Remove drops the alarm of subscriber, if any.
func (a *Alarms) Remove(subscriber crypto.Address) error {
	raw, err := a.db.Get(subscriberKey(subscriber))
	if storage.IsNotFound(err) {
		return nil
	} else if err != nil {
		return err
	}
	if len(raw) != 8 {
		return fmt.Errorf("timealarms: corrupted alarm of %s", subscriber)
	}
	if err := a.db.Delete(indexKey(binary.BigEndian.Uint64(raw), subscriber)); err != nil {
		return err
	}
	return a.db.Delete(subscriberKey(subscriber))
}

// Selection returns up to max alarms due at now, earliest first. A zero max
// means no limit.
func (a *Alarms) Selection(now finance.Timestamp, max uint32) ([]Entry, error) {
	limit := now.Seconds()
	var (
		out     []Entry
		iterErr error
	)
	err := a.db.Iterate(indexPrefix, func(key, _ []byte) bool {
		rest := key[len(indexPrefix):]
		if len(rest) != 8+crypto.AddressLength {
			iterErr = fmt.Errorf("timealarms: corrupted index key %x", key)
			return false
		}
		secs := binary.BigEndian.Uint64(rest[:8])
		if secs > limit {
			return false
		}
		out = append(out, Entry{
			Subscriber: crypto.NewAddress(crypto.AccountPrefix, rest[8:]),
			Seconds:    secs,
		})
		return max == 0 || uint32(len(out)) < max
	})
	if err != nil {
		return nil, err
	}
	return out, iterErr
}

// OutForDelivery moves the alarm of subscriber from the index to the tail of
// the delivery queue.
func (a *Alarms) OutForDelivery(subscriber crypto.Address) error {
	if err := a.Remove(subscriber); err != nil {
		return err
	}
	tail, err := a.counter(deliveryTailKey)
	if err != nil {
		return err
	}
	if err := a.db.Put(deliveryKey(tail), subscriber.Bytes()); err != nil {
		return err
	}
	return a.setCounter(deliveryTailKey, tail+1)
}

// LastDelivered settles the head of the delivery queue.
func (a *Alarms) LastDelivered() error {
	_, err := a.popFront()
	return err
}

// LastFailed puts the head of the delivery queue back into the index one
// second before now, so a dispatch in the same block picks it up again.
func (a *Alarms) LastFailed(now finance.Timestamp) error {
	subscriber, err := a.popFront()
	if err != nil {
		return err
	}
	secs := now.Seconds()
	if secs > 0 {
		secs--
	}
	return a.add(subscriber, secs)
}

// InDelivery reports the number of alarms awaiting an outcome.
func (a *Alarms) InDelivery() (uint64, error) {
	head, err := a.counter(deliveryHeadKey)
	if err != nil {
		return 0, err
	}
	tail, err := a.counter(deliveryTailKey)
	if err != nil {
		return 0, err
	}
	return tail - head, nil
}

func (a *Alarms) popFront() (crypto.Address, error) {
	head, err := a.counter(deliveryHeadKey)
	if err != nil {
		return crypto.Address{}, err
	}
	tail, err := a.counter(deliveryTailKey)
	if err != nil {
		return crypto.Address{}, err
	}
	if head == tail {
		return crypto.Address{}, ErrEmptyDeliveryQueue
	}
	raw, err := a.db.Get(deliveryKey(head))
	if err != nil {
		return crypto.Address{}, err
	}
	if len(raw) != crypto.AddressLength {
		return crypto.Address{}, fmt.Errorf("timealarms: corrupted delivery entry %d", head)
	}
	if err := a.db.Delete(deliveryKey(head)); err != nil {
		return crypto.Address{}, err
	}
	if err := a.setCounter(deliveryHeadKey, head+1); err != nil {
		return crypto.Address{}, err
	}
	return crypto.NewAddress(crypto.AccountPrefix, raw), nil
}

func (a *Alarms) counter(key []byte) (uint64, error) {
	raw, err := a.db.Get(key)
	if storage.IsNotFound(err) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("timealarms: corrupted counter %s", key)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (a *Alarms) setCounter(key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return a.db.Put(key, buf[:])
}

func subscriberKey(subscriber crypto.Address) []byte {
	return append(append([]byte(nil), subscriberPrefix...), subscriber.Bytes()...)
}

func indexKey(secs uint64, subscriber crypto.Address) []byte {
	key := binary.BigEndian.AppendUint64(append([]byte(nil), indexPrefix...), secs)
	return append(key, subscriber.Bytes()...)
}

func deliveryKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), deliveryPrefix...), seq)
}
