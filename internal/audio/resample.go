// Package audio adapts capture-rate float samples to the 16 kHz mono
// little-endian PCM16 contract the AI bridge requires.
package audio

import "encoding/binary"

// TargetSampleRate is the only rate the bridge accepts.
const TargetSampleRate = 16000

// Downsample decimates samples from inRate to outRate by averaging
// ratio-sized windows (box filter). Equal rates return the input
// unchanged. Aliasing above the new Nyquist is an accepted trade-off.
func Downsample(samples []float32, inRate, outRate int) []float32 {
	if inRate == outRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(inRate) / float64(outRate)
	outLen := int(float64(len(samples)) / ratio)
	out := make([]float32, 0, outLen)
	for i := 0; i < outLen; i++ {
		start := int(float64(i) * ratio)
		end := int(float64(i+1) * ratio)
		if end > len(samples) {
			end = len(samples)
		}
		if start >= end {
			break
		}
		var sum float32
		for _, s := range samples[start:end] {
			sum += s
		}
		out = append(out, sum/float32(end-start))
	}
	return out
}

// ConvertFloat32ToInt16 quantizes [-1,1] float samples to little-endian
// PCM16 bytes. Negative values scale by 0x8000, non-negative by 0x7FFF
// (asymmetric quantization), truncating toward zero.
func ConvertFloat32ToInt16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16 reverses ConvertFloat32ToInt16 for playback and tests.
func DecodePCM16(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 0x8000
		} else {
			out[i] = float32(v) / 0x7FFF
		}
	}
	return out
}
