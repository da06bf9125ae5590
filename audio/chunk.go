package audio

import (
	"encoding/binary"
	"time"
)

// Chunk is one slice of captured audio. Data is owned by the chunk and must
// not be modified after construction.
type Chunk struct {
	Seq  uint64
	At   time.Time
	Data []byte
}

func NewChunk(seq uint64, at time.Time, data []byte) Chunk {
	owned := make([]byte, len(data))
	copy(owned, data)
	return Chunk{Seq: seq, At: at, Data: owned}
}

func (c Chunk) Len() int {
	return len(c.Data)
}

// Format describes raw PCM as streamed to the transcription provider.
type Format struct {
	Encoding   string
	SampleRate int
	Channels   int
}

var Linear16 = Format{Encoding: "linear16", SampleRate: 16000, Channels: 1}

// BytesPerSecond is the PCM data rate for 16-bit samples.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// AppendPCM16 appends little-endian 16-bit samples to dst.
func AppendPCM16(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}
