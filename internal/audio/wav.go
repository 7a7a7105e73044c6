package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PCM is decoded mono 16-bit audio.
type PCM struct {
	SampleRate int
	Samples    []int16
}

// DecodeWAV extracts PCM16 samples from a RIFF/WAVE payload, the format
// the synthesizer returns for LINEAR16 output.
func DecodeWAV(data []byte) (PCM, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return PCM{}, fmt.Errorf("not a RIFF/WAVE payload")
	}

	var sampleRate int
	var channels, bitDepth int
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return PCM{}, fmt.Errorf("fmt chunk too short: %d bytes", chunkSize)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			if sampleRate == 0 {
				return PCM{}, fmt.Errorf("data chunk before fmt chunk")
			}
			if channels != 1 || bitDepth != 16 {
				return PCM{}, fmt.Errorf("unsupported wav format: %d channels, %d-bit", channels, bitDepth)
			}
			samples := make([]int16, chunkSize/2)
			if err := binary.Read(bytes.NewReader(data[body:body+len(samples)*2]), binary.LittleEndian, samples); err != nil {
				return PCM{}, fmt.Errorf("read wav samples: %w", err)
			}
			return PCM{SampleRate: sampleRate, Samples: samples}, nil
		}

		// Chunks are word-aligned.
		if chunkSize%2 == 1 {
			chunkSize++
		}
		offset = body + chunkSize
	}

	return PCM{}, fmt.Errorf("no data chunk found")
}

// EncodeWAVHeader builds a 44-byte canonical WAV header for raw PCM16.
func EncodeWAVHeader(dataSize, sampleRate, channels, bitDepth int) []byte {
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8

	buf := bytes.NewBuffer(make([]byte, 0, 44))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitDepth))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	return buf.Bytes()
}
