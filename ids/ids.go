package ids

import "github.com/google/uuid"

const (
	ShardTag         = "shd"
	WorkerTag        = "wkr"
	FragmentGroupTag = "frg"
	StreamTag        = "strm"
)

// ShardID names one ShardedTcpReassembler shard for logs and metrics.
type ShardID struct{ baseID }

func (ShardID) GetType() string      { return ShardTag }
func (id ShardID) String() string    { return stringOf(id) }
func NewShardID(u uuid.UUID) ShardID { return ShardID{baseID(u)} }
func GenerateShardID() ShardID       { return NewShardID(uuid.New()) }

// WorkerID names one WorkerPool worker goroutine.
type WorkerID struct{ baseID }

func (WorkerID) GetType() string       { return WorkerTag }
func (id WorkerID) String() string     { return stringOf(id) }
func NewWorkerID(u uuid.UUID) WorkerID { return WorkerID{baseID(u)} }
func GenerateWorkerID() WorkerID       { return NewWorkerID(uuid.New()) }

// FragmentGroupID names one in-flight IP fragment group.
type FragmentGroupID struct{ baseID }

func (FragmentGroupID) GetType() string   { return FragmentGroupTag }
func (id FragmentGroupID) String() string { return stringOf(id) }
func NewFragmentGroupID(u uuid.UUID) FragmentGroupID {
	return FragmentGroupID{baseID(u)}
}
func GenerateFragmentGroupID() FragmentGroupID { return NewFragmentGroupID(uuid.New()) }

// StreamID names one TcpStream for diagnostics. It is never used as the
// stream's lookup key — reassembly.FlowKey is — only as a stable label for
// logs and traces that outlives any one stream's lifetime in the flow table.
type StreamID struct{ baseID }

func (StreamID) GetType() string       { return StreamTag }
func (id StreamID) String() string     { return stringOf(id) }
func NewStreamID(u uuid.UUID) StreamID { return StreamID{baseID(u)} }
func GenerateStreamID() StreamID       { return NewStreamID(uuid.New()) }

// Parse decodes a "<tag>_<base62>" string produced by one of this package's
// String methods back into its typed id.
func Parse(s string) (ID, error) {
	tag, u, err := parseTagged(s)
	if err != nil {
		return nil, err
	}
	switch tag {
	case ShardTag:
		return NewShardID(u), nil
	case WorkerTag:
		return NewWorkerID(u), nil
	case FragmentGroupTag:
		return NewFragmentGroupID(u), nil
	case StreamTag:
		return NewStreamID(u), nil
	default:
		return nil, errUnknownTag(tag)
	}
}

type errUnknownTag string

func (e errUnknownTag) Error() string { return "ids: unknown tag " + string(e) }
