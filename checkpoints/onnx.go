package checkpoints

import (
	"fmt"
	"math"
	"os"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/emberml/ember/layers"
)

// ONNX wire schema subset used by the exporter and importer. Field
// numbers follow onnx.proto; messages are assembled directly with
// protowire so no generated bindings are needed.
const (
	// ModelProto
	fieldModelIRVersion       = 1
	fieldModelProducerName    = 2
	fieldModelProducerVersion = 3
	fieldModelVersion         = 5
	fieldModelGraph           = 7
	fieldModelOpsetImport     = 8

	// OperatorSetIdProto
	fieldOpsetDomain  = 1
	fieldOpsetVersion = 2

	// GraphProto
	fieldGraphNode        = 1
	fieldGraphName        = 2
	fieldGraphInitializer = 5
	fieldGraphInput       = 11
	fieldGraphOutput      = 12

	// NodeProto
	fieldNodeInput     = 1
	fieldNodeOutput    = 2
	fieldNodeName      = 3
	fieldNodeOpType    = 4
	fieldNodeAttribute = 5

	// AttributeProto
	fieldAttrName = 1
	fieldAttrInt  = 3
	fieldAttrType = 20

	// TensorProto
	fieldTensorDims      = 1
	fieldTensorDataType  = 2
	fieldTensorFloatData = 4
	fieldTensorName      = 8

	// ValueInfoProto / TypeProto / TensorShapeProto
	fieldValueInfoName   = 1
	fieldValueInfoType   = 2
	fieldTypeTensorType  = 1
	fieldTensorTypeElem  = 1
	fieldTensorTypeShape = 2
	fieldShapeDim        = 1
	fieldDimValue        = 1
)

const (
	onnxDataTypeFloat = 1
	onnxDataTypeInt64 = 7

	onnxAttrTypeInt = 2

	onnxIRVersion    = 7
	onnxOpsetVersion = 13
)

// ONNXExporter converts checkpoints to the ONNX format.
type ONNXExporter struct{}

// NewONNXExporter creates a new ONNX exporter
func NewONNXExporter() *ONNXExporter {
	return &ONNXExporter{}
}

// ExportToONNX converts a checkpoint to ONNX format. The checkpoint must
// carry a compiled model spec; weights-only checkpoints have no graph to
// export.
func (oe *ONNXExporter) ExportToONNX(checkpoint *Checkpoint, path string) error {
	if checkpoint.ModelSpec == nil {
		return fmt.Errorf("cannot export weights-only checkpoint to ONNX")
	}
	if err := checkpoint.ModelSpec.Validate(); err != nil {
		return fmt.Errorf("invalid model spec: %v", err)
	}

	graph, err := oe.buildGraph(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to build ONNX graph: %v", err)
	}

	var b []byte
	b = protowire.AppendTag(b, fieldModelIRVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, onnxIRVersion)
	b = protowire.AppendTag(b, fieldModelProducerName, protowire.BytesType)
	b = protowire.AppendString(b, "ember")
	b = protowire.AppendTag(b, fieldModelProducerVersion, protowire.BytesType)
	b = protowire.AppendString(b, "1.0.0")
	b = protowire.AppendTag(b, fieldModelVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)

	var opset []byte
	opset = protowire.AppendTag(opset, fieldOpsetVersion, protowire.VarintType)
	opset = protowire.AppendVarint(opset, onnxOpsetVersion)
	b = protowire.AppendTag(b, fieldModelOpsetImport, protowire.BytesType)
	b = protowire.AppendBytes(b, opset)

	b = protowire.AppendTag(b, fieldModelGraph, protowire.BytesType)
	b = protowire.AppendBytes(b, graph)

	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("failed to write ONNX file: %v", err)
	}
	return nil
}

func (oe *ONNXExporter) buildGraph(checkpoint *Checkpoint) ([]byte, error) {
	weightMap := make(map[string]WeightTensor)
	for _, w := range checkpoint.Weights {
		weightMap[w.Name] = w
	}

	var graph []byte
	graph = protowire.AppendTag(graph, fieldGraphName, protowire.BytesType)
	graph = protowire.AppendString(graph, "ember-model")

	spec := checkpoint.ModelSpec

	// Graph input: int64 indices when the model starts with a lookup,
	// float otherwise.
	inputElem := onnxDataTypeFloat
	if spec.Layers[0].Type == layers.LayerEmbedding {
		inputElem = onnxDataTypeInt64
	}
	graph = protowire.AppendTag(graph, fieldGraphInput, protowire.BytesType)
	graph = protowire.AppendBytes(graph, encodeValueInfo("input", inputElem, spec.InputShape))

	currentTensor := "input"
	for _, ls := range spec.Layers {
		var nodes [][]byte
		var initializers [][]byte
		var err error

		switch ls.Type {
		case layers.LayerEmbedding:
			nodes, initializers, currentTensor, err = oe.buildEmbeddingNode(ls, weightMap, currentTensor)
		case layers.LayerDense:
			nodes, initializers, currentTensor, err = oe.buildDenseNode(ls, weightMap, currentTensor)
		case layers.LayerReLU:
			nodes, currentTensor = oe.buildActivationNode("Relu", ls, currentTensor, nil)
		case layers.LayerSoftmax:
			axis := layers.GetIntParam(ls.Parameters, "axis", -1)
			nodes, currentTensor = oe.buildActivationNode("Softmax", ls, currentTensor,
				encodeIntAttribute("axis", int64(axis)))
		default:
			return nil, fmt.Errorf("unsupported layer type for ONNX export: %s", ls.Type.String())
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create ONNX node for layer %s: %v", ls.Name, err)
		}

		for _, n := range nodes {
			graph = protowire.AppendTag(graph, fieldGraphNode, protowire.BytesType)
			graph = protowire.AppendBytes(graph, n)
		}
		for _, init := range initializers {
			graph = protowire.AppendTag(graph, fieldGraphInitializer, protowire.BytesType)
			graph = protowire.AppendBytes(graph, init)
		}
	}

	graph = protowire.AppendTag(graph, fieldGraphOutput, protowire.BytesType)
	graph = protowire.AppendBytes(graph, encodeValueInfo(currentTensor, onnxDataTypeFloat, spec.OutputShape))

	return graph, nil
}

func (oe *ONNXExporter) buildEmbeddingNode(ls layers.LayerSpec, weightMap map[string]WeightTensor, input string) ([][]byte, [][]byte, string, error) {
	weightName := ls.Name + ".embeddings"
	w, ok := weightMap[weightName]
	if !ok {
		return nil, nil, "", fmt.Errorf("missing weight %s", weightName)
	}

	output := ls.Name + "_out"
	var node []byte
	node = appendNodeString(node, fieldNodeInput, weightName)
	node = appendNodeString(node, fieldNodeInput, input)
	node = appendNodeString(node, fieldNodeOutput, output)
	node = appendNodeString(node, fieldNodeName, ls.Name)
	node = appendNodeString(node, fieldNodeOpType, "Gather")

	return [][]byte{node}, [][]byte{encodeTensor(w)}, output, nil
}

func (oe *ONNXExporter) buildDenseNode(ls layers.LayerSpec, weightMap map[string]WeightTensor, input string) ([][]byte, [][]byte, string, error) {
	weightName := ls.Name + ".weight"
	w, ok := weightMap[weightName]
	if !ok {
		return nil, nil, "", fmt.Errorf("missing weight %s", weightName)
	}

	var nodes [][]byte
	initializers := [][]byte{encodeTensor(w)}

	matmulOut := ls.Name + "_matmul"
	var matmul []byte
	matmul = appendNodeString(matmul, fieldNodeInput, input)
	matmul = appendNodeString(matmul, fieldNodeInput, weightName)
	matmul = appendNodeString(matmul, fieldNodeOutput, matmulOut)
	matmul = appendNodeString(matmul, fieldNodeName, ls.Name+"_matmul")
	matmul = appendNodeString(matmul, fieldNodeOpType, "MatMul")
	nodes = append(nodes, matmul)

	output := matmulOut
	if layers.GetBoolParam(ls.Parameters, "use_bias", true) {
		biasName := ls.Name + ".bias"
		bias, ok := weightMap[biasName]
		if !ok {
			return nil, nil, "", fmt.Errorf("missing weight %s", biasName)
		}
		initializers = append(initializers, encodeTensor(bias))

		output = ls.Name + "_out"
		var add []byte
		add = appendNodeString(add, fieldNodeInput, matmulOut)
		add = appendNodeString(add, fieldNodeInput, biasName)
		add = appendNodeString(add, fieldNodeOutput, output)
		add = appendNodeString(add, fieldNodeName, ls.Name+"_bias")
		add = appendNodeString(add, fieldNodeOpType, "Add")
		nodes = append(nodes, add)
	}

	return nodes, initializers, output, nil
}

func (oe *ONNXExporter) buildActivationNode(opType string, ls layers.LayerSpec, input string, attribute []byte) ([][]byte, string) {
	output := ls.Name + "_out"
	var node []byte
	node = appendNodeString(node, fieldNodeInput, input)
	node = appendNodeString(node, fieldNodeOutput, output)
	node = appendNodeString(node, fieldNodeName, ls.Name)
	node = appendNodeString(node, fieldNodeOpType, opType)
	if attribute != nil {
		node = protowire.AppendTag(node, fieldNodeAttribute, protowire.BytesType)
		node = protowire.AppendBytes(node, attribute)
	}
	return [][]byte{node}, output
}

func appendNodeString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendString(b, s)
	return b
}

func encodeIntAttribute(name string, value int64) []byte {
	var attr []byte
	attr = protowire.AppendTag(attr, fieldAttrName, protowire.BytesType)
	attr = protowire.AppendString(attr, name)
	attr = protowire.AppendTag(attr, fieldAttrInt, protowire.VarintType)
	attr = protowire.AppendVarint(attr, uint64(value))
	attr = protowire.AppendTag(attr, fieldAttrType, protowire.VarintType)
	attr = protowire.AppendVarint(attr, onnxAttrTypeInt)
	return attr
}

func encodeTensor(w WeightTensor) []byte {
	var t []byte
	for _, d := range w.Shape {
		t = protowire.AppendTag(t, fieldTensorDims, protowire.VarintType)
		t = protowire.AppendVarint(t, uint64(d))
	}
	t = protowire.AppendTag(t, fieldTensorDataType, protowire.VarintType)
	t = protowire.AppendVarint(t, onnxDataTypeFloat)
	// float_data is packed
	var packed []byte
	for _, v := range w.Data {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	t = protowire.AppendTag(t, fieldTensorFloatData, protowire.BytesType)
	t = protowire.AppendBytes(t, packed)
	t = protowire.AppendTag(t, fieldTensorName, protowire.BytesType)
	t = protowire.AppendString(t, w.Name)
	return t
}

// ONNXImporter reads ONNX files produced by ONNXExporter back into
// checkpoints. It understands the exporter's operator subset (Gather,
// MatMul, Add, Relu, Softmax); arbitrary ONNX graphs are out of scope.
type ONNXImporter struct{}

// NewONNXImporter creates a new ONNX importer
func NewONNXImporter() *ONNXImporter {
	return &ONNXImporter{}
}

type onnxTensor struct {
	name string
	dims []int
	data []float32
}

type onnxNode struct {
	opType  string
	name    string
	inputs  []string
	outputs []string
}

// ImportFromONNX reads an ONNX file and reconstructs a checkpoint with a
// compiled model spec and the stored weights.
func (oi *ONNXImporter) ImportFromONNX(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ONNX file: %v", err)
	}

	var graph []byte
	err = walkMessage(data, func(num protowire.Number, typ protowire.Type, payload []byte, v uint64) error {
		if num == fieldModelGraph && typ == protowire.BytesType {
			graph = payload
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX model: %v", err)
	}
	if graph == nil {
		return nil, fmt.Errorf("ONNX model carries no graph")
	}

	var nodes []onnxNode
	var tensors []onnxTensor
	var inputShape []int
	err = walkMessage(graph, func(num protowire.Number, typ protowire.Type, payload []byte, v uint64) error {
		switch num {
		case fieldGraphNode:
			node, err := decodeNode(payload)
			if err != nil {
				return err
			}
			nodes = append(nodes, node)
		case fieldGraphInitializer:
			t, err := decodeTensor(payload)
			if err != nil {
				return err
			}
			tensors = append(tensors, t)
		case fieldGraphInput:
			shape, err := decodeValueInfoShape(payload)
			if err != nil {
				return err
			}
			inputShape = shape
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX graph: %v", err)
	}
	if len(inputShape) == 0 {
		return nil, fmt.Errorf("ONNX graph carries no input shape")
	}

	tensorsByName := make(map[string]onnxTensor)
	for _, t := range tensors {
		tensorsByName[t.name] = t
	}

	spec, err := oi.rebuildSpec(nodes, tensorsByName, inputShape)
	if err != nil {
		return nil, err
	}

	weights := make([]WeightTensor, 0, len(tensors))
	for _, t := range tensors {
		layerName, weightType := splitWeightName(t.name)
		weights = append(weights, WeightTensor{
			Name:  t.name,
			Shape: t.dims,
			Data:  t.data,
			Layer: layerName,
			Type:  weightType,
		})
	}

	return &Checkpoint{
		ModelSpec: spec,
		Weights:   weights,
	}, nil
}

func (oi *ONNXImporter) rebuildSpec(nodes []onnxNode, tensors map[string]onnxTensor, inputShape []int) (*layers.ModelSpec, error) {
	builder := layers.NewModelBuilder(inputShape)

	for i := 0; i < len(nodes); i++ {
		node := nodes[i]
		switch node.opType {
		case "Gather":
			w, ok := tensors[node.inputs[0]]
			if !ok || len(w.dims) != 2 {
				return nil, fmt.Errorf("Gather node %s has no 2D table initializer", node.name)
			}
			builder = builder.AddEmbedding(w.dims[0], w.dims[1], false, 0, node.name)
		case "MatMul":
			w, ok := tensors[node.inputs[1]]
			if !ok || len(w.dims) != 2 {
				return nil, fmt.Errorf("MatMul node %s has no 2D weight initializer", node.name)
			}
			layerName := strings.TrimSuffix(node.name, "_matmul")
			useBias := false
			if i+1 < len(nodes) && nodes[i+1].opType == "Add" && nodes[i+1].inputs[0] == node.outputs[0] {
				useBias = true
				i++
			}
			builder = builder.AddDense(w.dims[1], useBias, layerName)
		case "Relu":
			builder = builder.AddReLU(node.name)
		case "Softmax":
			builder = builder.AddSoftmax(-1, node.name)
		default:
			return nil, fmt.Errorf("unsupported ONNX operator: %s", node.opType)
		}
	}

	spec, err := builder.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to compile imported model spec: %v", err)
	}
	return spec, nil
}

func splitWeightName(name string) (layer, weightType string) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return name, "weight"
	}
	return name[:idx], name[idx+1:]
}

// walkMessage iterates the fields of a length-delimited protobuf
// message, passing bytes payloads and scalar values to fn.
func walkMessage(b []byte, fn func(num protowire.Number, typ protowire.Type, payload []byte, v uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, typ, nil, v); err != nil {
				return err
			}
			b = b[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, typ, nil, uint64(v)); err != nil {
				return err
			}
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, typ, nil, v); err != nil {
				return err
			}
			b = b[n:]
		case protowire.BytesType:
			payload, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, typ, payload, 0); err != nil {
				return err
			}
			b = b[n:]
		default:
			return fmt.Errorf("unsupported wire type %d", typ)
		}
	}
	return nil
}

func decodeNode(b []byte) (onnxNode, error) {
	var node onnxNode
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, payload []byte, v uint64) error {
		switch num {
		case fieldNodeInput:
			node.inputs = append(node.inputs, string(payload))
		case fieldNodeOutput:
			node.outputs = append(node.outputs, string(payload))
		case fieldNodeName:
			node.name = string(payload)
		case fieldNodeOpType:
			node.opType = string(payload)
		}
		return nil
	})
	return node, err
}

func decodeTensor(b []byte) (onnxTensor, error) {
	var t onnxTensor
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, payload []byte, v uint64) error {
		switch num {
		case fieldTensorDims:
			t.dims = append(t.dims, int(v))
		case fieldTensorDataType:
			if v != onnxDataTypeFloat {
				return fmt.Errorf("unsupported tensor data type %d", v)
			}
		case fieldTensorFloatData:
			if typ == protowire.BytesType {
				for len(payload) > 0 {
					bits, n := protowire.ConsumeFixed32(payload)
					if n < 0 {
						return protowire.ParseError(n)
					}
					t.data = append(t.data, math.Float32frombits(bits))
					payload = payload[n:]
				}
			} else {
				t.data = append(t.data, math.Float32frombits(uint32(v)))
			}
		case fieldTensorName:
			t.name = string(payload)
		}
		return nil
	})
	return t, err
}

func decodeValueInfoShape(b []byte) ([]int, error) {
	var shape []int
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, payload []byte, v uint64) error {
		if num != fieldValueInfoType {
			return nil
		}
		return walkMessage(payload, func(num protowire.Number, typ protowire.Type, payload []byte, v uint64) error {
			if num != fieldTypeTensorType {
				return nil
			}
			return walkMessage(payload, func(num protowire.Number, typ protowire.Type, payload []byte, v uint64) error {
				if num != fieldTensorTypeShape {
					return nil
				}
				return walkMessage(payload, func(num protowire.Number, typ protowire.Type, payload []byte, v uint64) error {
					if num != fieldShapeDim {
						return nil
					}
					return walkMessage(payload, func(num protowire.Number, typ protowire.Type, payload []byte, v uint64) error {
						if num == fieldDimValue {
							shape = append(shape, int(v))
						}
						return nil
					})
				})
			})
		})
	})
	return shape, err
}

func encodeValueInfo(name string, elemType int, shape []int) []byte {
	var dims []byte
	for _, d := range shape {
		var dim []byte
		dim = protowire.AppendTag(dim, fieldDimValue, protowire.VarintType)
		dim = protowire.AppendVarint(dim, uint64(d))
		dims = protowire.AppendTag(dims, fieldShapeDim, protowire.BytesType)
		dims = protowire.AppendBytes(dims, dim)
	}

	var tensorType []byte
	tensorType = protowire.AppendTag(tensorType, fieldTensorTypeElem, protowire.VarintType)
	tensorType = protowire.AppendVarint(tensorType, uint64(elemType))
	tensorType = protowire.AppendTag(tensorType, fieldTensorTypeShape, protowire.BytesType)
	tensorType = protowire.AppendBytes(tensorType, dims)

	var typeProto []byte
	typeProto = protowire.AppendTag(typeProto, fieldTypeTensorType, protowire.BytesType)
	typeProto = protowire.AppendBytes(typeProto, tensorType)

	var vi []byte
	vi = protowire.AppendTag(vi, fieldValueInfoName, protowire.BytesType)
	vi = protowire.AppendString(vi, name)
	vi = protowire.AppendTag(vi, fieldValueInfoType, protowire.BytesType)
	vi = protowire.AppendBytes(vi, typeProto)
	return vi
}
