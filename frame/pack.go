package frame

// nullID is the reserved trace ID used to pad the last frame.
const nullID = 0x00

// Pack formats data from a single trace source into CoreSight frames, the
// way a formatter in front of trace memory would. Every frame opens with
// the ID of the source followed by 14 data bytes. A short last frame is
// padded with data for the null ID, which Demuxer output for id ignores.
func Pack(id uint8, data []byte) []byte {
	var out []byte
	for len(data) > 0 {
		n := min(len(data), FrameSize-2)
		out = append(out, packFrame(id, data[:n])...)
		data = data[n:]
	}
	return out
}

func packFrame(id uint8, data []byte) []byte {
	f := make([]byte, FrameSize)
	f[0] = id<<1 | 1

	pos := 1
	for i, b := range data {
		last := i == len(data)-1
		if pos%2 == 0 {
			if last && pos < 14 {
				// switch to the null ID; the flag keeps b with id
				f[pos] = nullID<<1 | 1
				f[15] |= 1 << (pos / 2)
				f[pos+1] = b
				return f
			}
			f[pos] = b &^ 1
			f[15] |= (b & 1) << (pos / 2)
		} else {
			f[pos] = b
		}
		pos++
	}
	if pos < FrameSize-1 {
		f[pos] = nullID<<1 | 1
	}
	return f
}
