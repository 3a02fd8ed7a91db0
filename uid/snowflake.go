package uid

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Snowflake layout: 1 sign bit, 41 bits of milliseconds since Epoch,
// 10 bits of machine id and a 12 bit sequence.
const (
	sequenceBits  = 12
	machineIDBits = 10

	maxSequence  = (1 << sequenceBits) - 1
	maxMachineID = (1 << machineIDBits) - 1

	machineIDShift = sequenceBits
	timestampShift = sequenceBits + machineIDBits
)

// Epoch is the snowflake time origin, 2020-01-01 UTC.
var Epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

// Snowflake generates time ordered 63 bit ids without locking.
type Snowflake struct {
	state     int64 // timestamp << sequenceBits | sequence
	machineID int64
}

// NewSnowflake creates a generator. A nil machineID derives one from the
// host's first non-loopback IPv4 address.
func NewSnowflake(machineID *int64) *Snowflake {
	var id int64
	if machineID != nil {
		id = *machineID
	} else {
		id = machineIDFromIP()
	}
	return &Snowflake{
		state:     (time.Now().UnixMilli() - Epoch) << sequenceBits,
		machineID: id & maxMachineID,
	}
}

func machineIDFromIP() int64 {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return 0
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip := ipnet.IP.To4(); ip != nil {
				return int64(ip[2])<<8 | int64(ip[3])
			}
		}
	}
	return 0
}

// Next returns a new id.
func (g *Snowflake) Next() int64 {
	for {
		old := atomic.LoadInt64(&g.state)
		oldTS := old >> sequenceBits
		seq := old & maxSequence
		now := time.Now().UnixMilli() - Epoch

		ts := oldTS
		switch {
		case now > oldTS:
			ts, seq = now, 0
		default:
			seq = (seq + 1) & maxSequence
			if seq == 0 {
				// sequence exhausted for this millisecond
				for now <= oldTS {
					now = time.Now().UnixMilli() - Epoch
				}
				ts = now
			}
		}

		if atomic.CompareAndSwapInt64(&g.state, old, ts<<sequenceBits|seq) {
			return ts<<timestampShift | g.machineID<<machineIDShift | seq
		}
	}
}

// MachineID returns the machine id embedded in ids from g.
func (g *Snowflake) MachineID() int64 { return g.machineID }

// Decompose splits an id into its timestamp, machine id and sequence.
func Decompose(id int64) (ts time.Time, machineID, seq int64) {
	ms := id>>timestampShift + Epoch
	return time.UnixMilli(ms), (id >> machineIDShift) & maxMachineID, id & maxSequence
}

var (
	defaultOnce sync.Once
	defaultGen  *Snowflake
)

// NextSnowflake draws from the process wide generator.
func NextSnowflake() int64 {
	defaultOnce.Do(func() {
		defaultGen = NewSnowflake(nil)
	})
	return defaultGen.Next()
}
