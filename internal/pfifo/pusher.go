package pfifo

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/richardwooding/nv2a/internal/logger"
	"github.com/richardwooding/nv2a/internal/memory"
	"github.com/richardwooding/nv2a/internal/object"
)

// Guest stream errors. Each suspends the pusher and raises IntrDMAPusher;
// the guest recovers by clearing the suspended status.
var (
	// ErrDMAProtectionFault indicates a get pointer outside the push buffer.
	ErrDMAProtectionFault = errors.New("dma protection fault")

	// ErrCallNesting indicates a call while a subroutine is already active.
	ErrCallNesting = errors.New("call with subroutine active")

	// ErrReturnWithoutCall indicates a return with no active subroutine.
	ErrReturnWithoutCall = errors.New("return without call")

	// ErrReservedCommand indicates a control word matching no encoding.
	ErrReservedCommand = errors.New("reserved command")
)

// ErrRunaway is returned by Decode when a push buffer does not reach its put
// pointer within the word limit.
var ErrRunaway = errors.New("push buffer does not terminate")

// Channel is the pusher state of one channel.
type Channel struct {
	ID uint32

	PushEnabled      bool // CACHE1_PUSH0 access
	DMAPushEnabled   bool // CACHE1_DMA_PUSH access
	DMAPushSuspended bool
	DMAInstance      uint32 // RAMIN offset of the push buffer DMA object

	Method        uint32
	Subchannel    uint32
	MethodCount   uint32
	NonIncreasing bool
	DCount        uint32

	SubroutineActive bool
	SubroutineReturn uint32

	Get, Put  uint32
	Ref       uint32
	ErrorCode uint32

	// Shadows of the last jump source, control word and parameter
	GetJmpShadow uint32
	RsvdShadow   uint32
	DataShadow   uint32
}

// Ready reports whether a put pointer write should run the pusher.
func (ch *Channel) Ready() bool {
	return ch.PushEnabled && ch.DMAPushEnabled && !ch.DMAPushSuspended
}

// RunPusher walks the channel's push buffer from Get to Put and enqueues
// every decoded command. On a stream error the commands decoded before it
// are still enqueued, the channel is suspended and the error is returned.
// A channel that is not Ready is left alone.
func (ch *Channel) RunPusher(bus *memory.Bus, q *Queue) error {
	if !ch.Ready() {
		return nil
	}

	ring, _, err := object.Map(bus, ch.DMAInstance)
	if err != nil {
		ring = nil // every get is out of bounds
	}

	var cmds []Command
	err = ch.walk(ring, 0, func(c Command) { cmds = append(cmds, c) })
	q.Enqueue(cmds...)

	if err != nil {
		ch.DMAPushSuspended = true
		logger.Logger().Warn("dma pusher suspended",
			"channel", ch.ID, "get", ch.Get, "put", ch.Put, "err", err)
		return fmt.Errorf("channel %d: %w", ch.ID, err)
	}
	return nil
}

// walk decodes words until Get reaches Put. A positive limit bounds the
// number of words read.
func (ch *Channel) walk(ring []byte, limit int, emit func(Command)) error {
	for words := 0; ch.Get != ch.Put; words++ {
		if limit > 0 && words == limit {
			return fmt.Errorf("%w: %d words read, get 0x%X, put 0x%X", ErrRunaway, words, ch.Get, ch.Put)
		}
		if uint64(ch.Get)+4 > uint64(len(ring)) {
			return ch.fail(ch.Get, dmaErrorProtection,
				fmt.Errorf("%w: get 0x%X, buffer 0x%X", ErrDMAProtectionFault, ch.Get, len(ring)))
		}

		at := ch.Get
		word := binary.LittleEndian.Uint32(ring[at:])
		ch.Get += 4

		if ch.MethodCount > 0 {
			ch.DataShadow = word
			emit(Command{
				Channel:       ch.ID,
				Subchannel:    ch.Subchannel,
				Method:        ch.Method,
				Parameter:     word,
				NonIncreasing: ch.NonIncreasing,
			})
			if !ch.NonIncreasing {
				ch.Method = (ch.Method + 4) & headerMethodMask
			}
			ch.MethodCount--
			ch.DCount++
			continue
		}

		ch.RsvdShadow = word
		switch {
		case word&oldJumpMask == oldJump:
			ch.GetJmpShadow = ch.Get
			ch.Get = word & oldJumpTarget
		case word&commandMask == commandJump:
			ch.GetJmpShadow = ch.Get
			ch.Get = word &^ commandMask
		case word&commandMask == commandCall:
			if ch.SubroutineActive {
				return ch.fail(at, dmaErrorCall, fmt.Errorf("%w: at 0x%X", ErrCallNesting, at))
			}
			ch.SubroutineReturn = ch.Get
			ch.SubroutineActive = true
			ch.Get = word &^ commandMask
		case word == returnWord:
			if !ch.SubroutineActive {
				return ch.fail(at, dmaErrorReturn, fmt.Errorf("%w: at 0x%X", ErrReturnWithoutCall, at))
			}
			ch.Get = ch.SubroutineReturn
			ch.SubroutineActive = false
		case word&headerMask == headerIncreasing, word&headerMask == headerNonIncreasing:
			ch.Method = word & headerMethodMask
			ch.Subchannel = word >> headerSubchShift & headerSubchMask
			ch.MethodCount = word >> headerCountShift & headerCountMask
			ch.NonIncreasing = word&headerMask == headerNonIncreasing
			ch.DCount = 0
		default:
			return ch.fail(at, dmaErrorReserved, fmt.Errorf("%w: 0x%08X at 0x%X", ErrReservedCommand, word, at))
		}
	}
	return nil
}

// fail leaves Get on the faulting word and records code.
func (ch *Channel) fail(at, code uint32, err error) error {
	ch.Get = at
	ch.ErrorCode = code
	return err
}

// Decode walks ring from get to put without a device and returns the
// commands a channel would enqueue. Walks longer than maxWords words fail
// with ErrRunaway; maxWords <= 0 allows as many words as the ring holds.
func Decode(ring []byte, get, put uint32, maxWords int) ([]Command, error) {
	if maxWords <= 0 {
		maxWords = max(len(ring)/4, 1)
	}

	ch := &Channel{Get: get, Put: put}
	var cmds []Command
	err := ch.walk(ring, maxWords, func(c Command) {
		cmds = append(cmds, c)
	})
	return cmds, err
}
