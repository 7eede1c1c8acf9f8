package tensor

import (
	"fmt"
	"math"
	"runtime"
	"sync"
)

// parallelRanges splits n units of work into contiguous chunks across
// runtime.NumCPU() goroutines and waits for all of them.
func parallelRanges(n int, work func(start, end int)) {
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		work(0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			work(start, end)
		}(start, end)
	}
	wg.Wait()
}

func checkConvArgs(x, weight, bias *Tensor, stride, padding, groups int) error {
	if x.DType != Float32 || weight.DType != Float32 {
		return fmt.Errorf("conv requires Float32 tensors, got input %s and weight %s", x.DType, weight.DType)
	}
	if len(x.Shape) != 4 {
		return fmt.Errorf("conv input must be 4D [N, C, H, W], got shape %v", x.Shape)
	}
	if len(weight.Shape) != 4 {
		return fmt.Errorf("conv weight must be 4D [O, C/groups, kh, kw], got shape %v", weight.Shape)
	}
	if stride < 1 {
		return fmt.Errorf("stride must be >= 1, got %d", stride)
	}
	if padding < 0 {
		return fmt.Errorf("padding must be >= 0, got %d", padding)
	}
	if groups < 1 {
		return fmt.Errorf("groups must be >= 1, got %d", groups)
	}

	inC := x.Shape[1]
	outC := weight.Shape[0]
	if inC%groups != 0 {
		return fmt.Errorf("input channels %d not divisible by groups %d", inC, groups)
	}
	if outC%groups != 0 {
		return fmt.Errorf("output channels %d not divisible by groups %d", outC, groups)
	}
	if weight.Shape[1] != inC/groups {
		return fmt.Errorf("weight expects %d input channels per group, input has %d", weight.Shape[1], inC/groups)
	}
	if bias != nil {
		if bias.DType != Float32 {
			return fmt.Errorf("conv bias must be Float32, got %s", bias.DType)
		}
		if len(bias.Shape) != 1 || bias.Shape[0] != outC {
			return fmt.Errorf("conv bias must have shape [%d], got %v", outC, bias.Shape)
		}
	}
	return nil
}

// Conv2D performs a 2D convolution over x [N, C, H, W] with weight
// [O, C/groups, kh, kw] and optional bias [O]. Padding is implicit zero
// padding on both spatial borders.
func Conv2D(x, weight, bias *Tensor, stride, padding, groups int) (*Tensor, error) {
	if err := checkConvArgs(x, weight, bias, stride, padding, groups); err != nil {
		return nil, err
	}

	n, inC, inH, inW := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outC, kh, kw := weight.Shape[0], weight.Shape[2], weight.Shape[3]

	outH := (inH+2*padding-kh)/stride + 1
	outW := (inW+2*padding-kw)/stride + 1
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("conv output size %dx%d is not positive for input %dx%d, kernel %dx%d, stride %d, padding %d",
			outH, outW, inH, inW, kh, kw, stride, padding)
	}

	result, err := Zeros([]int{n, outC, outH, outW}, Float32)
	if err != nil {
		return nil, err
	}

	xData := x.Data.([]float32)
	wData := weight.Data.([]float32)
	outData := result.Data.([]float32)
	var bData []float32
	if bias != nil {
		bData = bias.Data.([]float32)
	}

	groupC := inC / groups
	groupO := outC / groups

	parallelRanges(n*outC, func(start, end int) {
		for job := start; job < end; job++ {
			bi := job / outC
			oc := job % outC
			g := oc / groupO
			icBase := g * groupC

			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					sum := float32(0)
					for ic := 0; ic < groupC; ic++ {
						xChan := ((bi*inC + icBase + ic) * inH) * inW
						wChan := ((oc*groupC + ic) * kh) * kw
						for ki := 0; ki < kh; ki++ {
							ih := oh*stride - padding + ki
							if ih < 0 || ih >= inH {
								continue
							}
							for kj := 0; kj < kw; kj++ {
								iw := ow*stride - padding + kj
								if iw < 0 || iw >= inW {
									continue
								}
								sum += xData[xChan+ih*inW+iw] * wData[wChan+ki*kw+kj]
							}
						}
					}
					if bData != nil {
						sum += bData[oc]
					}
					outData[((bi*outC+oc)*outH+oh)*outW+ow] = sum
				}
			}
		}
	})

	return result, nil
}

// Conv2DBackward computes the gradients of a 2D convolution. Any of the
// three returned gradients can be skipped by its need flag; skipped
// gradients come back nil.
func Conv2DBackward(x, weight, gradOut *Tensor, stride, padding, groups int, needInput, needWeight, needBias bool) (*Tensor, *Tensor, *Tensor, error) {
	if err := checkConvArgs(x, weight, nil, stride, padding, groups); err != nil {
		return nil, nil, nil, err
	}

	n, inC, inH, inW := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outC, kh, kw := weight.Shape[0], weight.Shape[2], weight.Shape[3]
	outH, outW := gradOut.Shape[2], gradOut.Shape[3]

	xData := x.Data.([]float32)
	wData := weight.Data.([]float32)
	gData := gradOut.Data.([]float32)

	groupC := inC / groups
	groupO := outC / groups

	var gradInput, gradWeight, gradBias *Tensor
	var err error

	if needInput {
		gradInput, err = Zeros(x.Shape, Float32)
		if err != nil {
			return nil, nil, nil, err
		}
		giData := gradInput.Data.([]float32)

		parallelRanges(n*inC, func(start, end int) {
			for job := start; job < end; job++ {
				bi := job / inC
				ic := job % inC
				g := ic / groupC
				icg := ic % groupC
				ocBase := g * groupO

				for ih := 0; ih < inH; ih++ {
					for iw := 0; iw < inW; iw++ {
						sum := float32(0)
						for ki := 0; ki < kh; ki++ {
							ohNum := ih + padding - ki
							if ohNum < 0 || ohNum%stride != 0 {
								continue
							}
							oh := ohNum / stride
							if oh >= outH {
								continue
							}
							for kj := 0; kj < kw; kj++ {
								owNum := iw + padding - kj
								if owNum < 0 || owNum%stride != 0 {
									continue
								}
								ow := owNum / stride
								if ow >= outW {
									continue
								}
								for oc := ocBase; oc < ocBase+groupO; oc++ {
									gIdx := ((bi*outC+oc)*outH+oh)*outW + ow
									wIdx := ((oc*groupC+icg)*kh+ki)*kw + kj
									sum += gData[gIdx] * wData[wIdx]
								}
							}
						}
						giData[((bi*inC+ic)*inH+ih)*inW+iw] = sum
					}
				}
			}
		})
	}

	if needWeight {
		gradWeight, err = Zeros(weight.Shape, Float32)
		if err != nil {
			return nil, nil, nil, err
		}
		gwData := gradWeight.Data.([]float32)

		parallelRanges(outC, func(start, end int) {
			for oc := start; oc < end; oc++ {
				g := oc / groupO
				icBase := g * groupC

				for ic := 0; ic < groupC; ic++ {
					for ki := 0; ki < kh; ki++ {
						for kj := 0; kj < kw; kj++ {
							sum := float32(0)
							for bi := 0; bi < n; bi++ {
								for oh := 0; oh < outH; oh++ {
									ih := oh*stride - padding + ki
									if ih < 0 || ih >= inH {
										continue
									}
									for ow := 0; ow < outW; ow++ {
										iw := ow*stride - padding + kj
										if iw < 0 || iw >= inW {
											continue
										}
										gIdx := ((bi*outC+oc)*outH+oh)*outW + ow
										xIdx := ((bi*inC+icBase+ic)*inH+ih)*inW + iw
										sum += gData[gIdx] * xData[xIdx]
									}
								}
							}
							gwData[((oc*groupC+ic)*kh+ki)*kw+kj] = sum
						}
					}
				}
			}
		})
	}

	if needBias {
		gradBias, err = Zeros([]int{outC}, Float32)
		if err != nil {
			return nil, nil, nil, err
		}
		gbData := gradBias.Data.([]float32)

		for bi := 0; bi < n; bi++ {
			for oc := 0; oc < outC; oc++ {
				sum := float32(0)
				base := (bi*outC + oc) * outH * outW
				for i := 0; i < outH*outW; i++ {
					sum += gData[base+i]
				}
				gbData[oc] += sum
			}
		}
	}

	return gradInput, gradWeight, gradBias, nil
}

// MaxPool2D performs max pooling over x [N, C, H, W] and additionally
// returns the flat input index of every selected maximum so the backward
// pass can route gradients.
func MaxPool2D(x *Tensor, kernel, stride, padding int) (*Tensor, []int32, error) {
	if x.DType != Float32 {
		return nil, nil, fmt.Errorf("MaxPool2D requires Float32, got %s", x.DType)
	}
	if len(x.Shape) != 4 {
		return nil, nil, fmt.Errorf("MaxPool2D input must be 4D [N, C, H, W], got shape %v", x.Shape)
	}
	if kernel < 1 || stride < 1 {
		return nil, nil, fmt.Errorf("kernel and stride must be >= 1, got kernel %d, stride %d", kernel, stride)
	}
	if padding < 0 {
		return nil, nil, fmt.Errorf("padding must be >= 0, got %d", padding)
	}

	n, c, inH, inW := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outH := (inH+2*padding-kernel)/stride + 1
	outW := (inW+2*padding-kernel)/stride + 1
	if outH <= 0 || outW <= 0 {
		return nil, nil, fmt.Errorf("pool output size %dx%d is not positive for input %dx%d, kernel %d, stride %d, padding %d",
			outH, outW, inH, inW, kernel, stride, padding)
	}

	result, err := Zeros([]int{n, c, outH, outW}, Float32)
	if err != nil {
		return nil, nil, err
	}

	xData := x.Data.([]float32)
	outData := result.Data.([]float32)
	indices := make([]int32, n*c*outH*outW)

	parallelRanges(n*c, func(start, end int) {
		for job := start; job < end; job++ {
			chanBase := job * inH * inW
			outBase := job * outH * outW

			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					maxVal := float32(math.Inf(-1))
					maxIdx := int32(-1)
					for ki := 0; ki < kernel; ki++ {
						ih := oh*stride - padding + ki
						if ih < 0 || ih >= inH {
							continue
						}
						for kj := 0; kj < kernel; kj++ {
							iw := ow*stride - padding + kj
							if iw < 0 || iw >= inW {
								continue
							}
							idx := chanBase + ih*inW + iw
							if xData[idx] > maxVal {
								maxVal = xData[idx]
								maxIdx = int32(idx)
							}
						}
					}
					outData[outBase+oh*outW+ow] = maxVal
					indices[outBase+oh*outW+ow] = maxIdx
				}
			}
		}
	})

	return result, indices, nil
}

// MaxPool2DBackward scatters the output gradient back to the argmax
// positions recorded during the forward pass.
func MaxPool2DBackward(xShape []int, gradOut *Tensor, indices []int32) (*Tensor, error) {
	if gradOut.NumElems != len(indices) {
		return nil, fmt.Errorf("gradient has %d elements but %d indices were recorded", gradOut.NumElems, len(indices))
	}

	gradInput, err := Zeros(xShape, Float32)
	if err != nil {
		return nil, err
	}

	gData := gradOut.Data.([]float32)
	giData := gradInput.Data.([]float32)

	for i, idx := range indices {
		if idx >= 0 {
			giData[idx] += gData[i]
		}
	}

	return gradInput, nil
}

// AvgPool2D performs average pooling over x [N, C, H, W]. Padded positions
// count toward the window size, so every output divides by kernel*kernel.
func AvgPool2D(x *Tensor, kernel, stride, padding int) (*Tensor, error) {
	if x.DType != Float32 {
		return nil, fmt.Errorf("AvgPool2D requires Float32, got %s", x.DType)
	}
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("AvgPool2D input must be 4D [N, C, H, W], got shape %v", x.Shape)
	}
	if kernel < 1 || stride < 1 {
		return nil, fmt.Errorf("kernel and stride must be >= 1, got kernel %d, stride %d", kernel, stride)
	}
	if padding < 0 {
		return nil, fmt.Errorf("padding must be >= 0, got %d", padding)
	}

	n, c, inH, inW := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outH := (inH+2*padding-kernel)/stride + 1
	outW := (inW+2*padding-kernel)/stride + 1
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("pool output size %dx%d is not positive for input %dx%d, kernel %d, stride %d, padding %d",
			outH, outW, inH, inW, kernel, stride, padding)
	}

	result, err := Zeros([]int{n, c, outH, outW}, Float32)
	if err != nil {
		return nil, err
	}

	xData := x.Data.([]float32)
	outData := result.Data.([]float32)
	window := float32(kernel * kernel)

	parallelRanges(n*c, func(start, end int) {
		for job := start; job < end; job++ {
			chanBase := job * inH * inW
			outBase := job * outH * outW

			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					sum := float32(0)
					for ki := 0; ki < kernel; ki++ {
						ih := oh*stride - padding + ki
						if ih < 0 || ih >= inH {
							continue
						}
						for kj := 0; kj < kernel; kj++ {
							iw := ow*stride - padding + kj
							if iw < 0 || iw >= inW {
								continue
							}
							sum += xData[chanBase+ih*inW+iw]
						}
					}
					outData[outBase+oh*outW+ow] = sum / window
				}
			}
		}
	})

	return result, nil
}

// AvgPool2DBackward spreads each output gradient evenly over its pooling
// window.
func AvgPool2DBackward(xShape []int, gradOut *Tensor, kernel, stride, padding int) (*Tensor, error) {
	gradInput, err := Zeros(xShape, Float32)
	if err != nil {
		return nil, err
	}

	inH, inW := xShape[2], xShape[3]
	outH, outW := gradOut.Shape[2], gradOut.Shape[3]
	gData := gradOut.Data.([]float32)
	giData := gradInput.Data.([]float32)
	window := float32(kernel * kernel)

	for job := 0; job < xShape[0]*xShape[1]; job++ {
		chanBase := job * inH * inW
		outBase := job * outH * outW

		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				g := gData[outBase+oh*outW+ow] / window
				for ki := 0; ki < kernel; ki++ {
					ih := oh*stride - padding + ki
					if ih < 0 || ih >= inH {
						continue
					}
					for kj := 0; kj < kernel; kj++ {
						iw := ow*stride - padding + kj
						if iw < 0 || iw >= inW {
							continue
						}
						giData[chanBase+ih*inW+iw] += g
					}
				}
			}
		}
	}

	return gradInput, nil
}

// GlobalAvgPool2D averages x [N, C, H, W] over its spatial axes, producing
// [N, C, 1, 1].
func GlobalAvgPool2D(x *Tensor) (*Tensor, error) {
	if x.DType != Float32 {
		return nil, fmt.Errorf("GlobalAvgPool2D requires Float32, got %s", x.DType)
	}
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("GlobalAvgPool2D input must be 4D [N, C, H, W], got shape %v", x.Shape)
	}

	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	result, err := Zeros([]int{n, c, 1, 1}, Float32)
	if err != nil {
		return nil, err
	}

	xData := x.Data.([]float32)
	outData := result.Data.([]float32)
	area := float32(h * w)

	for job := 0; job < n*c; job++ {
		base := job * h * w
		sum := float32(0)
		for i := 0; i < h*w; i++ {
			sum += xData[base+i]
		}
		outData[job] = sum / area
	}

	return result, nil
}

// GlobalAvgPool2DBackward spreads the output gradient uniformly across the
// pooled spatial positions.
func GlobalAvgPool2DBackward(xShape []int, gradOut *Tensor) (*Tensor, error) {
	gradInput, err := Zeros(xShape, Float32)
	if err != nil {
		return nil, err
	}

	h, w := xShape[2], xShape[3]
	area := float32(h * w)
	gData := gradOut.Data.([]float32)
	giData := gradInput.Data.([]float32)

	for job := 0; job < xShape[0]*xShape[1]; job++ {
		g := gData[job] / area
		base := job * h * w
		for i := 0; i < h*w; i++ {
			giData[base+i] = g
		}
	}

	return gradInput, nil
}
