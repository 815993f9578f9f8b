// ABOUTME: Simple linear resampler for converting audio sample rates
// ABOUTME: Used to bring decoded files to the stream rate using linear interpolation
package resample

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	if channels <= 0 {
		channels = 1
	}
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
	}
}

// Resample converts input samples to output sample rate using linear interpolation
// input: interleaved samples at inputRate
// output: interleaved samples at outputRate
func (r *Resampler) Resample(input []int16, output []int16) int {
	if len(input) == 0 {
		return 0
	}

	inputFrames := len(input) / r.channels
	outputFrames := len(output) / r.channels

	outIdx := 0

	for outIdx < outputFrames {
		inputIdx := int(r.position)

		// Last input frame has no right neighbour; hold it
		if inputIdx >= inputFrames {
			break
		}

		frac := r.position - float64(inputIdx)

		for ch := 0; ch < r.channels; ch++ {
			sample1 := input[inputIdx*r.channels+ch]
			sample2 := sample1
			if inputIdx+1 < inputFrames {
				sample2 = input[(inputIdx+1)*r.channels+ch]
			}

			interpolated := float64(sample1)*(1.0-frac) + float64(sample2)*frac
			output[outIdx*r.channels+ch] = int16(interpolated)
		}

		outIdx++
		r.position += r.ratio
	}

	// Carry the fractional position into the next chunk
	r.position -= float64(inputFrames)
	if r.position < 0 {
		r.position = 0
	}

	return outIdx * r.channels
}

// OutputSamplesNeeded calculates how many output samples will be produced from input samples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames) / r.ratio)
	return outputFrames * r.channels
}

// Convert resamples a whole clip in one pass
func Convert(input []int16, inputRate, outputRate, channels int) []int16 {
	if inputRate == outputRate {
		out := make([]int16, len(input))
		copy(out, input)
		return out
	}
	r := New(inputRate, outputRate, channels)
	out := make([]int16, r.OutputSamplesNeeded(len(input)))
	n := r.Resample(input, out)
	return out[:n]
}
