package tensor

import (
	"fmt"
)

func checkConv3DArgs(x, weight, bias *Tensor, stride, padding [3]int, groups int) error {
	if x.DType != Float32 || weight.DType != Float32 {
		return fmt.Errorf("conv3d requires Float32 tensors, got input %s and weight %s", x.DType, weight.DType)
	}
	if len(x.Shape) != 5 {
		return fmt.Errorf("conv3d input must be 5D [N, C, D1, D2, D3], got shape %v", x.Shape)
	}
	if len(weight.Shape) != 5 {
		return fmt.Errorf("conv3d weight must be 5D [O, C/groups, k1, k2, k3], got shape %v", weight.Shape)
	}
	for i := 0; i < 3; i++ {
		if stride[i] < 1 {
			return fmt.Errorf("stride[%d] must be >= 1, got %d", i, stride[i])
		}
		if padding[i] < 0 {
			return fmt.Errorf("padding[%d] must be >= 0, got %d", i, padding[i])
		}
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
		if len(bias.Shape) != 1 || bias.Shape[0] != outC {
			return fmt.Errorf("conv3d bias must have shape [%d], got %v", outC, bias.Shape)
		}
	}
	return nil
}

// Conv3D performs a 3D convolution over x [N, C, D1, D2, D3] with weight
// [O, C/groups, k1, k2, k3] and optional bias [O]. The delay convolution
// runs this with the time axis last: stride and padding are per axis, so
// the temporal axis keeps stride 1 and padding 0 while the spatial axes
// carry the layer's stride and padding.
func Conv3D(x, weight, bias *Tensor, stride, padding [3]int, groups int) (*Tensor, error) {
	if err := checkConv3DArgs(x, weight, bias, stride, padding, groups); err != nil {
		return nil, err
	}

	n, inC := x.Shape[0], x.Shape[1]
	in1, in2, in3 := x.Shape[2], x.Shape[3], x.Shape[4]
	outC := weight.Shape[0]
	k1, k2, k3 := weight.Shape[2], weight.Shape[3], weight.Shape[4]

	out1 := (in1+2*padding[0]-k1)/stride[0] + 1
	out2 := (in2+2*padding[1]-k2)/stride[1] + 1
	out3 := (in3+2*padding[2]-k3)/stride[2] + 1
	if out1 <= 0 || out2 <= 0 || out3 <= 0 {
		return nil, fmt.Errorf("conv3d output size %dx%dx%d is not positive for input %dx%dx%d, kernel %dx%dx%d",
			out1, out2, out3, in1, in2, in3, k1, k2, k3)
	}

	result, err := Zeros([]int{n, outC, out1, out2, out3}, Float32)
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

			for o1 := 0; o1 < out1; o1++ {
				for o2 := 0; o2 < out2; o2++ {
					for o3 := 0; o3 < out3; o3++ {
						sum := float32(0)
						for ic := 0; ic < groupC; ic++ {
							xChan := (bi*inC + icBase + ic) * in1 * in2 * in3
							wChan := (oc*groupC + ic) * k1 * k2 * k3
							for ki := 0; ki < k1; ki++ {
								i1 := o1*stride[0] - padding[0] + ki
								if i1 < 0 || i1 >= in1 {
									continue
								}
								for kj := 0; kj < k2; kj++ {
									i2 := o2*stride[1] - padding[1] + kj
									if i2 < 0 || i2 >= in2 {
										continue
									}
									for kk := 0; kk < k3; kk++ {
										i3 := o3*stride[2] - padding[2] + kk
										if i3 < 0 || i3 >= in3 {
											continue
										}
										xIdx := xChan + (i1*in2+i2)*in3 + i3
										wIdx := wChan + (ki*k2+kj)*k3 + kk
										sum += xData[xIdx] * wData[wIdx]
									}
								}
							}
						}
						if bData != nil {
							sum += bData[oc]
						}
						outData[((bi*outC+oc)*out1+o1)*out2*out3+o2*out3+o3] = sum
					}
				}
			}
		}
	})

	return result, nil
}

// Conv3DBackward computes the gradients of a 3D convolution, mirroring
// Conv2DBackward.
func Conv3DBackward(x, weight, gradOut *Tensor, stride, padding [3]int, groups int, needInput, needWeight, needBias bool) (*Tensor, *Tensor, *Tensor, error) {
	if err := checkConv3DArgs(x, weight, nil, stride, padding, groups); err != nil {
		return nil, nil, nil, err
	}

	n, inC := x.Shape[0], x.Shape[1]
	in1, in2, in3 := x.Shape[2], x.Shape[3], x.Shape[4]
	outC := weight.Shape[0]
	k1, k2, k3 := weight.Shape[2], weight.Shape[3], weight.Shape[4]
	out1, out2, out3 := gradOut.Shape[2], gradOut.Shape[3], gradOut.Shape[4]

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

				for i1 := 0; i1 < in1; i1++ {
					for i2 := 0; i2 < in2; i2++ {
						for i3 := 0; i3 < in3; i3++ {
							sum := float32(0)
							for ki := 0; ki < k1; ki++ {
								o1Num := i1 + padding[0] - ki
								if o1Num < 0 || o1Num%stride[0] != 0 {
									continue
								}
								o1 := o1Num / stride[0]
								if o1 >= out1 {
									continue
								}
								for kj := 0; kj < k2; kj++ {
									o2Num := i2 + padding[1] - kj
									if o2Num < 0 || o2Num%stride[1] != 0 {
										continue
									}
									o2 := o2Num / stride[1]
									if o2 >= out2 {
										continue
									}
									for kk := 0; kk < k3; kk++ {
										o3Num := i3 + padding[2] - kk
										if o3Num < 0 || o3Num%stride[2] != 0 {
											continue
										}
										o3 := o3Num / stride[2]
										if o3 >= out3 {
											continue
										}
										for oc := ocBase; oc < ocBase+groupO; oc++ {
											gIdx := ((bi*outC+oc)*out1+o1)*out2*out3 + o2*out3 + o3
											wIdx := ((oc*groupC+icg)*k1+ki)*k2*k3 + kj*k3 + kk
											sum += gData[gIdx] * wData[wIdx]
										}
									}
								}
							}
							giData[((bi*inC+ic)*in1+i1)*in2*in3+i2*in3+i3] = sum
						}
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
					for ki := 0; ki < k1; ki++ {
						for kj := 0; kj < k2; kj++ {
							for kk := 0; kk < k3; kk++ {
								sum := float32(0)
								for bi := 0; bi < n; bi++ {
									for o1 := 0; o1 < out1; o1++ {
										i1 := o1*stride[0] - padding[0] + ki
										if i1 < 0 || i1 >= in1 {
											continue
										}
										for o2 := 0; o2 < out2; o2++ {
											i2 := o2*stride[1] - padding[1] + kj
											if i2 < 0 || i2 >= in2 {
												continue
											}
											for o3 := 0; o3 < out3; o3++ {
												i3 := o3*stride[2] - padding[2] + kk
												if i3 < 0 || i3 >= in3 {
													continue
												}
												gIdx := ((bi*outC+oc)*out1+o1)*out2*out3 + o2*out3 + o3
												xIdx := ((bi*inC+icBase+ic)*in1+i1)*in2*in3 + i2*in3 + i3
												sum += gData[gIdx] * xData[xIdx]
											}
										}
									}
								}
								gwData[((oc*groupC+ic)*k1+ki)*k2*k3+kj*k3+kk] = sum
							}
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

		outVol := out1 * out2 * out3
		for bi := 0; bi < n; bi++ {
			for oc := 0; oc < outC; oc++ {
				sum := float32(0)
				base := (bi*outC + oc) * outVol
				for i := 0; i < outVol; i++ {
					sum += gData[base+i]
				}
				gbData[oc] += sum
			}
		}
	}

	return gradInput, gradWeight, gradBias, nil
}
