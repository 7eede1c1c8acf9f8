package checkpoints

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tsawler/go-spike/snn"
)

// Field numbers from the ONNX protobuf schema (onnx.proto3). Only the
// subset needed for a weights-only export is declared.
const (
	modelIrVersion       = 1
	modelProducerName    = 2
	modelProducerVersion = 3
	modelGraph           = 7
	modelOpsetImport     = 8

	graphNode        = 1
	graphName        = 2
	graphInitializer = 5
	graphInput       = 11
	graphOutput      = 12

	tensorDims      = 1
	tensorDataType  = 2
	tensorFloatData = 4
	tensorName      = 8

	nodeInput  = 1
	nodeOutput = 2
	nodeName   = 3
	nodeOpType = 4

	valueInfoName = 1
	valueInfoType = 2

	typeTensorType  = 1
	tensorTypeElem  = 1
	tensorTypeShape = 2

	shapeDim     = 1
	dimValue     = 1
	opsetDomain  = 1
	opsetVersion = 2
)

// onnxFloat is the ONNX TensorProto.DataType value for float32.
const onnxFloat = 1

// ExportONNX writes the model's parameters and buffers to path as an ONNX
// ModelProto. Every tensor becomes a named graph initializer; a single
// Identity node connects the declared input and output value infos. The
// export carries weights for interchange, not a runnable inference graph.
func ExportONNX(path string, model snn.Module, inputShape []int) error {
	if len(inputShape) == 0 {
		return fmt.Errorf("input shape must not be empty")
	}

	named := append(model.Parameters(), snn.ModuleBuffers(model)...)
	if len(named) == 0 {
		return fmt.Errorf("model has no tensors to export")
	}

	var graph []byte
	graph = appendStringField(graph, graphName, "go-spike")

	node := buildIdentityNode("input", "output")
	graph = appendBytesField(graph, graphNode, node)

	for _, p := range named {
		data, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("tensor %s: %v", p.Name, err)
		}
		init := buildTensor(p.Name, p.Tensor.Shape, data)
		graph = appendBytesField(graph, graphInitializer, init)
	}

	graph = appendBytesField(graph, graphInput, buildValueInfo("input", inputShape))
	graph = appendBytesField(graph, graphOutput, buildValueInfo("output", nil))

	var modelBytes []byte
	modelBytes = appendVarintField(modelBytes, modelIrVersion, 7)
	modelBytes = appendStringField(modelBytes, modelProducerName, "go-spike")
	modelBytes = appendStringField(modelBytes, modelProducerVersion, "1.0.0")
	modelBytes = appendBytesField(modelBytes, modelGraph, graph)

	var opset []byte
	opset = appendStringField(opset, opsetDomain, "")
	opset = appendVarintField(opset, opsetVersion, 13)
	modelBytes = appendBytesField(modelBytes, modelOpsetImport, opset)

	if err := os.WriteFile(path, modelBytes, 0644); err != nil {
		return fmt.Errorf("failed to write ONNX file: %v", err)
	}

	return nil
}

// buildTensor encodes a TensorProto with packed dims and float data.
func buildTensor(name string, shape []int, data []float32) []byte {
	var b []byte

	var dims []byte
	for _, d := range shape {
		dims = protowire.AppendVarint(dims, uint64(d))
	}
	b = appendBytesField(b, tensorDims, dims)

	b = appendVarintField(b, tensorDataType, onnxFloat)

	var floats []byte
	for _, v := range data {
		floats = protowire.AppendFixed32(floats, math.Float32bits(v))
	}
	b = appendBytesField(b, tensorFloatData, floats)

	b = appendStringField(b, tensorName, name)
	return b
}

// buildValueInfo encodes a ValueInfoProto with a float tensor type. A nil
// shape leaves the dimensions undeclared.
func buildValueInfo(name string, shape []int) []byte {
	var tensorType []byte
	tensorType = appendVarintField(tensorType, tensorTypeElem, onnxFloat)

	if shape != nil {
		var dims []byte
		for _, d := range shape {
			var dim []byte
			dim = appendVarintField(dim, dimValue, uint64(d))
			dims = appendBytesField(dims, shapeDim, dim)
		}
		tensorType = appendBytesField(tensorType, tensorTypeShape, dims)
	}

	var typ []byte
	typ = appendBytesField(typ, typeTensorType, tensorType)

	var b []byte
	b = appendStringField(b, valueInfoName, name)
	b = appendBytesField(b, valueInfoType, typ)
	return b
}

func buildIdentityNode(input, output string) []byte {
	var b []byte
	b = appendStringField(b, nodeInput, input)
	b = appendStringField(b, nodeOutput, output)
	b = appendStringField(b, nodeName, "passthrough")
	b = appendStringField(b, nodeOpType, "Identity")
	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, payload []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}
