// Package wire implements the bit-exact binary encoding for the frames
// documented in proto/federation.proto. No protoc toolchain runs as part of
// this repository's build, so the messages are encoded and decoded by hand
// with google.golang.org/protobuf/encoding/protowire, preserving the field
// numbers and wire types of the .proto schema of record.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is satisfied by every frame type defined in this package and is
// the contract the federation gRPC codec (see codec.go) marshals against.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// TopicRequest is the request message for both StreamEvents and StreamFiles.
type TopicRequest struct {
	ClientID string
	Topic    string
	Offset   int64
}

func (m *TopicRequest) Marshal() ([]byte, error) {
	var b []byte
	if m.ClientID != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.ClientID)
	}
	if m.Topic != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, m.Topic)
	}
	if m.Offset != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Offset))
	}
	return b, nil
}

func (m *TopicRequest) Unmarshal(data []byte) error {
	*m = TopicRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: TopicRequest: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: TopicRequest.client_id: %w", protowire.ParseError(n))
			}
			m.ClientID = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: TopicRequest.topic: %w", protowire.ParseError(n))
			}
			m.Topic = v
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: TopicRequest.offset: %w", protowire.ParseError(n))
			}
			m.Offset = int64(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("wire: TopicRequest: unknown field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// HeaderEntry is a single (name, value) pair from the allow-listed subset of
// an event's source headers.
type HeaderEntry struct {
	Name  string
	Value string
}

func appendHeaderEntry(b []byte, num protowire.Number, h HeaderEntry) []byte {
	var entry []byte
	if h.Name != "" {
		entry = protowire.AppendTag(entry, 1, protowire.BytesType)
		entry = protowire.AppendString(entry, h.Name)
	}
	if h.Value != "" {
		entry = protowire.AppendTag(entry, 2, protowire.BytesType)
		entry = protowire.AppendString(entry, h.Value)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, entry)
	return b
}

func consumeHeaderEntry(data []byte) (HeaderEntry, error) {
	var h HeaderEntry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return h, fmt.Errorf("wire: HeaderEntry: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return h, fmt.Errorf("wire: HeaderEntry.name: %w", protowire.ParseError(n))
			}
			h.Name = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return h, fmt.Errorf("wire: HeaderEntry.value: %w", protowire.ParseError(n))
			}
			h.Value = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return h, fmt.Errorf("wire: HeaderEntry: unknown field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return h, nil
}

// EventFrame is a single Kafka record translated onto the wire.
type EventFrame struct {
	Topic         string
	Offset        int64
	Key           []byte
	Value         []byte
	SharedHeaders []HeaderEntry
}

func (m *EventFrame) Marshal() ([]byte, error) {
	var b []byte
	if m.Topic != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Topic)
	}
	if m.Offset != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Offset))
	}
	if len(m.Key) > 0 {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Key)
	}
	if len(m.Value) > 0 {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Value)
	}
	for _, h := range m.SharedHeaders {
		b = appendHeaderEntry(b, 5, h)
	}
	return b, nil
}

func (m *EventFrame) Unmarshal(data []byte) error {
	*m = EventFrame{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: EventFrame: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: EventFrame.topic: %w", protowire.ParseError(n))
			}
			m.Topic = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: EventFrame.offset: %w", protowire.ParseError(n))
			}
			m.Offset = int64(v)
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("wire: EventFrame.key: %w", protowire.ParseError(n))
			}
			m.Key = append([]byte(nil), v...)
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("wire: EventFrame.value: %w", protowire.ParseError(n))
			}
			m.Value = append([]byte(nil), v...)
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("wire: EventFrame.shared_headers: %w", protowire.ParseError(n))
			}
			h, err := consumeHeaderEntry(v)
			if err != nil {
				return err
			}
			m.SharedHeaders = append(m.SharedHeaders, h)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("wire: EventFrame: unknown field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// FileChunkFrame is a single framed slice of a file transfer.
type FileChunkFrame struct {
	FileName       string
	FileSequenceID int64
	ChunkIndex     uint32
	TotalChunks    uint32
	IsLastChunk    bool
	FileSize       uint64
	FileChecksum   string
	ChunkData      []byte
}

func (m *FileChunkFrame) Marshal() ([]byte, error) {
	var b []byte
	if m.FileName != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.FileName)
	}
	if m.FileSequenceID != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.FileSequenceID))
	}
	if m.ChunkIndex != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.ChunkIndex))
	}
	if m.TotalChunks != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.TotalChunks))
	}
	if m.IsLastChunk {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if m.FileSize != 0 {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, m.FileSize)
	}
	if m.FileChecksum != "" {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendString(b, m.FileChecksum)
	}
	if len(m.ChunkData) > 0 {
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		b = protowire.AppendBytes(b, m.ChunkData)
	}
	return b, nil
}

func (m *FileChunkFrame) Unmarshal(data []byte) error {
	*m = FileChunkFrame{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: FileChunkFrame: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: FileChunkFrame.file_name: %w", protowire.ParseError(n))
			}
			m.FileName = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: FileChunkFrame.file_sequence_id: %w", protowire.ParseError(n))
			}
			m.FileSequenceID = int64(v)
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: FileChunkFrame.chunk_index: %w", protowire.ParseError(n))
			}
			m.ChunkIndex = uint32(v)
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: FileChunkFrame.total_chunks: %w", protowire.ParseError(n))
			}
			m.TotalChunks = uint32(v)
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: FileChunkFrame.is_last_chunk: %w", protowire.ParseError(n))
			}
			m.IsLastChunk = v != 0
			data = data[n:]
		case 6:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: FileChunkFrame.file_size: %w", protowire.ParseError(n))
			}
			m.FileSize = v
			data = data[n:]
		case 7:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: FileChunkFrame.file_checksum: %w", protowire.ParseError(n))
			}
			m.FileChecksum = v
			data = data[n:]
		case 8:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("wire: FileChunkFrame.chunk_data: %w", protowire.ParseError(n))
			}
			m.ChunkData = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("wire: FileChunkFrame: unknown field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// WarningFrame is the in-band control frame the file producer emits instead
// of aborting the stream when a single source request fails (spec.md 4.5/4.7).
type WarningFrame struct {
	Reason            string
	Details           string
	SkippedSequenceID int64
}

func (m *WarningFrame) Marshal() ([]byte, error) {
	var b []byte
	if m.Reason != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Reason)
	}
	if m.Details != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, m.Details)
	}
	if m.SkippedSequenceID != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.SkippedSequenceID))
	}
	return b, nil
}

func (m *WarningFrame) Unmarshal(data []byte) error {
	*m = WarningFrame{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: WarningFrame: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: WarningFrame.reason: %w", protowire.ParseError(n))
			}
			m.Reason = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: WarningFrame.details: %w", protowire.ParseError(n))
			}
			m.Details = v
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: WarningFrame.skipped_sequence_id: %w", protowire.ParseError(n))
			}
			m.SkippedSequenceID = int64(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("wire: WarningFrame: unknown field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// FileStreamFrame is the oneof wrapper carried over StreamFiles: either a
// data/commit FileChunkFrame, or a WarningFrame reporting a single failed
// source request without aborting the stream (spec.md 4.5 "Errors from the
// provider are reported as a single control frame ... rather than aborting
// the stream"). Exactly one of Chunk or Warning is set.
type FileStreamFrame struct {
	Chunk   *FileChunkFrame
	Warning *WarningFrame
}

func (m *FileStreamFrame) Marshal() ([]byte, error) {
	switch {
	case m.Chunk != nil:
		inner, err := m.Chunk.Marshal()
		if err != nil {
			return nil, err
		}
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
		return b, nil
	case m.Warning != nil:
		inner, err := m.Warning.Marshal()
		if err != nil {
			return nil, err
		}
		var b []byte
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
		return b, nil
	default:
		return nil, nil
	}
}

func (m *FileStreamFrame) Unmarshal(data []byte) error {
	*m = FileStreamFrame{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: FileStreamFrame: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("wire: FileStreamFrame.chunk: %w", protowire.ParseError(n))
			}
			chunk := &FileChunkFrame{}
			if err := chunk.Unmarshal(v); err != nil {
				return err
			}
			m.Chunk = chunk
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("wire: FileStreamFrame.warning: %w", protowire.ParseError(n))
			}
			warning := &WarningFrame{}
			if err := warning.Unmarshal(v); err != nil {
				return err
			}
			m.Warning = warning
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("wire: FileStreamFrame: unknown field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}
