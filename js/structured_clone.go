package js

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

type cloneKind int

const (
	cloneUndefined cloneKind = iota
	cloneNull
	cloneBool
	cloneInt
	cloneNumber
	cloneBigInt
	cloneString
	cloneBoxed
	cloneDate
	cloneRegExp
	cloneError
	cloneArrayBuffer
	cloneArray
	cloneObject
	cloneMap
	cloneSet
	clonePort
	cloneRef
)

// cloneNode is one value of a serialized message. Objects carry an id so
// shared and cyclic references survive the round trip as cloneRef nodes.
type cloneNode struct {
	kind     cloneKind
	id       int
	b        bool
	i        int64
	num      float64
	str      string
	flags    string
	bytes    []byte
	length   int64
	keys     []string
	children []*cloneNode
}

// serializedMessage is a scope-independent copy of a script value plus the
// identities of the ports transferred with it.
type serializedMessage struct {
	root  *cloneNode
	ports []uuid.UUID
	size  int
}

// Size returns the approximate payload size in bytes.
func (m *serializedMessage) Size() int { return m.size }

type serializer struct {
	scope    *GlobalScope
	memory   map[*goja.Object]int
	transfer map[*goja.Object]int
	size     int
}

// serialize copies v out of the scope. Every port in transfer is detached
// from this scope once serialization succeeds.
func (s *GlobalScope) serialize(v goja.Value, transfer []goja.Value) (*serializedMessage, error) {
	w := &serializer{
		scope:    s,
		memory:   make(map[*goja.Object]int),
		transfer: make(map[*goja.Object]int),
	}

	ports := make([]*MessagePort, 0, len(transfer))
	for i, t := range transfer {
		port, ok := s.unwrapHost(t).(*MessagePort)
		if !ok {
			return nil, ErrDataClone(fmt.Sprintf("Value at index %d does not have a transferable type.", i))
		}
		obj := t.(*goja.Object)
		if _, dup := w.transfer[obj]; dup {
			return nil, ErrDataClone(fmt.Sprintf("Message port at index %d is a duplicate of an earlier port.", i))
		}
		if port.detached {
			return nil, ErrDataClone(fmt.Sprintf("Port at index %d is already detached.", i))
		}
		w.transfer[obj] = len(ports)
		ports = append(ports, port)
	}

	root, err := w.write(v)
	if err != nil {
		return nil, err
	}

	msg := &serializedMessage{root: root, size: w.size}
	for _, p := range ports {
		msg.ports = append(msg.ports, p.id)
		p.detach()
	}
	return msg, nil
}

func (w *serializer) write(v goja.Value) (*cloneNode, error) {
	if v == nil || goja.IsUndefined(v) {
		return &cloneNode{kind: cloneUndefined}, nil
	}
	if goja.IsNull(v) {
		return &cloneNode{kind: cloneNull}, nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return w.writePrimitive(v)
	}

	if id, seen := w.memory[obj]; seen {
		return &cloneNode{kind: cloneRef, id: id}, nil
	}
	if host := w.scope.unwrapHost(obj); host != nil {
		if i, ok := w.transfer[obj]; ok {
			return &cloneNode{kind: clonePort, i: int64(i)}, nil
		}
		if _, ok := host.(*MessagePort); ok {
			return nil, ErrDataClone("A MessagePort could not be cloned because it was not transferred.")
		}
		return nil, ErrDataClone(fmt.Sprintf("%s object could not be cloned.", interfaceName(host)))
	}
	if _, ok := goja.AssertFunction(obj); ok {
		return nil, ErrDataClone(fmt.Sprintf("%s could not be cloned.", formatValue(obj)))
	}

	id := len(w.memory)
	w.memory[obj] = id
	node := &cloneNode{id: id}
	w.size += 8

	switch class := obj.ClassName(); class {
	case "Boolean", "Number", "String":
		prim, err := w.writePrimitive(w.valueOf(obj))
		if err != nil {
			return nil, err
		}
		node.kind = cloneBoxed
		node.children = []*cloneNode{prim}

	case "Date":
		node.kind = cloneDate
		node.num = w.valueOf(obj).ToFloat()

	case "RegExp":
		node.kind = cloneRegExp
		node.str = obj.Get("source").String()
		node.flags = obj.Get("flags").String()
		w.size += len(node.str) + len(node.flags)

	case "Error":
		node.kind = cloneError
		node.str = errorName(obj.Get("name"))
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
			node.flags = m.String()
		}
		w.size += len(node.flags)

	case "ArrayBuffer":
		ab, ok := obj.Export().(goja.ArrayBuffer)
		if !ok {
			return nil, ErrDataClone("ArrayBuffer could not be cloned.")
		}
		node.kind = cloneArrayBuffer
		node.bytes = append([]byte(nil), ab.Bytes()...)
		w.size += len(node.bytes)

	case "Array":
		node.kind = cloneArray
		node.length = obj.Get("length").ToInteger()
		if err := w.writeProperties(obj, node); err != nil {
			return nil, err
		}

	case "Map":
		node.kind = cloneMap
		if err := w.writeCollection(obj, node, true); err != nil {
			return nil, err
		}

	case "Set":
		node.kind = cloneSet
		if err := w.writeCollection(obj, node, false); err != nil {
			return nil, err
		}

	case "Object", "Arguments":
		node.kind = cloneObject
		if err := w.writeProperties(obj, node); err != nil {
			return nil, err
		}

	default:
		return nil, ErrDataClone(fmt.Sprintf("%s object could not be cloned.", class))
	}
	return node, nil
}

func (w *serializer) writePrimitive(v goja.Value) (*cloneNode, error) {
	if _, ok := v.(*goja.Symbol); ok {
		return nil, ErrDataClone("Symbol could not be cloned.")
	}
	switch x := v.Export().(type) {
	case bool:
		w.size++
		return &cloneNode{kind: cloneBool, b: x}, nil
	case int64:
		w.size += 8
		return &cloneNode{kind: cloneInt, i: x}, nil
	case float64:
		w.size += 8
		return &cloneNode{kind: cloneNumber, num: x}, nil
	case string:
		w.size += len(x)
		return &cloneNode{kind: cloneString, str: x}, nil
	case *big.Int:
		s := x.String()
		w.size += len(s)
		return &cloneNode{kind: cloneBigInt, str: s}, nil
	}
	return nil, ErrDataClone(fmt.Sprintf("%s could not be cloned.", formatValue(v)))
}

// writeProperties records own enumerable string-keyed properties. Getters
// run during serialization, as they do in browsers.
func (w *serializer) writeProperties(obj *goja.Object, node *cloneNode) error {
	for _, key := range obj.Keys() {
		child, err := w.write(obj.Get(key))
		if err != nil {
			return err
		}
		node.keys = append(node.keys, key)
		node.children = append(node.children, child)
		w.size += len(key)
	}
	return nil
}

// writeCollection records Map entries as key, value pairs and Set members
// in iteration order.
func (w *serializer) writeCollection(obj *goja.Object, node *cloneNode, pairs bool) error {
	forEach, ok := goja.AssertFunction(obj.Get("forEach"))
	if !ok {
		return ErrDataClone("collection could not be cloned.")
	}

	var entries []goja.Value
	_, err := forEach(obj, w.scope.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if pairs {
			entries = append(entries, call.Argument(1), call.Argument(0))
		} else {
			entries = append(entries, call.Argument(0))
		}
		return goja.Undefined()
	}))
	if err != nil {
		return err
	}

	for _, e := range entries {
		child, err := w.write(e)
		if err != nil {
			return err
		}
		node.children = append(node.children, child)
	}
	return nil
}

func (w *serializer) valueOf(obj *goja.Object) goja.Value {
	if fn, ok := goja.AssertFunction(obj.Get("valueOf")); ok {
		if v, err := fn(obj); err == nil {
			return v
		}
	}
	return goja.Undefined()
}

func interfaceName(obj DOMObject) string {
	switch obj.(type) {
	case *WindowProxy:
		return "Window"
	case *MessagePort:
		return "MessagePort"
	case *MessageChannel:
		return "MessageChannel"
	case *ServiceWorker:
		return "ServiceWorker"
	case *ServiceWorkerContainer:
		return "ServiceWorkerContainer"
	case *Client:
		return "Client"
	case EventObject:
		return "Event"
	}
	return "platform"
}

var errorConstructors = map[string]bool{
	"Error":          true,
	"EvalError":      true,
	"RangeError":     true,
	"ReferenceError": true,
	"SyntaxError":    true,
	"TypeError":      true,
	"URIError":       true,
}

func errorName(v goja.Value) string {
	if v != nil && !goja.IsUndefined(v) && errorConstructors[v.String()] {
		return v.String()
	}
	return "Error"
}

type deserializer struct {
	scope  *GlobalScope
	memory map[int]goja.Value
	ports  []*MessagePort
}

// deserialize rebuilds msg in s and claims its transferred ports for s.
// A message over the host's size limit, or whose ports were claimed
// elsewhere, cannot be deserialized. On failure the ports the message
// carried are disentangled so their peers do not wait on them.
func (s *GlobalScope) deserialize(msg *serializedMessage) (goja.Value, []*MessagePort, error) {
	if limit := s.host.maxMessageBytes; limit > 0 && msg.size > limit {
		s.host.discard(msg)
		return nil, nil, ErrDataClone(fmt.Sprintf("message of %d bytes exceeds the %d byte limit", msg.size, limit))
	}
	ports, err := s.host.claimPorts(msg.ports, s)
	if err != nil {
		s.host.discard(msg)
		return nil, nil, err
	}

	r := &deserializer{scope: s, memory: make(map[int]goja.Value), ports: ports}
	v, err := r.read(msg.root)
	if err != nil {
		for _, p := range ports {
			p.Close()
		}
		return nil, nil, err
	}
	return v, ports, nil
}

func (r *deserializer) read(n *cloneNode) (goja.Value, error) {
	vm := r.scope.vm
	switch n.kind {
	case cloneUndefined:
		return goja.Undefined(), nil
	case cloneNull:
		return goja.Null(), nil
	case cloneBool:
		return vm.ToValue(n.b), nil
	case cloneInt:
		return vm.ToValue(n.i), nil
	case cloneNumber:
		return vm.ToValue(n.num), nil
	case cloneString:
		return vm.ToValue(n.str), nil
	case cloneBigInt:
		return r.construct("BigInt", false, vm.ToValue(n.str))
	case cloneRef:
		v, ok := r.memory[n.id]
		if !ok {
			return nil, ErrDataClone("dangling reference in serialized message")
		}
		return v, nil
	case clonePort:
		if int(n.i) >= len(r.ports) {
			return nil, ErrDataClone("transferred port missing from message")
		}
		return r.ports[n.i].Object(), nil
	}

	var (
		out goja.Value
		err error
	)
	switch n.kind {
	case cloneBoxed:
		prim, err := r.read(n.children[0])
		if err != nil {
			return nil, err
		}
		out = prim.ToObject(vm)
	case cloneDate:
		out, err = r.construct("Date", true, vm.ToValue(n.num))
	case cloneRegExp:
		out, err = r.construct("RegExp", true, vm.ToValue(n.str), vm.ToValue(n.flags))
	case cloneError:
		out, err = r.construct(n.str, true, vm.ToValue(n.flags))
	case cloneArrayBuffer:
		out = vm.ToValue(vm.NewArrayBuffer(append([]byte(nil), n.bytes...)))
	case cloneArray:
		arr := vm.NewArray()
		r.memory[n.id] = arr
		if err := arr.Set("length", n.length); err != nil {
			return nil, err
		}
		return arr, r.readProperties(arr, n)
	case cloneObject:
		obj := vm.NewObject()
		r.memory[n.id] = obj
		return obj, r.readProperties(obj, n)
	case cloneMap:
		return r.readCollection(n, "Map", "set", 2)
	case cloneSet:
		return r.readCollection(n, "Set", "add", 1)
	default:
		return nil, ErrDataClone("unknown value in serialized message")
	}
	if err != nil {
		return nil, err
	}
	r.memory[n.id] = out
	return out, nil
}

func (r *deserializer) readProperties(obj *goja.Object, n *cloneNode) error {
	for i, key := range n.keys {
		v, err := r.read(n.children[i])
		if err != nil {
			return err
		}
		if err := obj.Set(key, v); err != nil {
			return err
		}
	}
	return nil
}

func (r *deserializer) readCollection(n *cloneNode, ctor, method string, stride int) (goja.Value, error) {
	v, err := r.construct(ctor, true)
	if err != nil {
		return nil, err
	}
	obj := v.(*goja.Object)
	r.memory[n.id] = obj

	add, ok := goja.AssertFunction(obj.Get(method))
	if !ok {
		return nil, ErrDataClone(ctor + "." + method + " is not callable")
	}
	for i := 0; i+stride <= len(n.children); i += stride {
		args := make([]goja.Value, stride)
		for j := range args {
			if args[j], err = r.read(n.children[i+j]); err != nil {
				return nil, err
			}
		}
		if _, err := add(obj, args...); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// construct calls a global constructor, with new or as a plain function.
func (r *deserializer) construct(name string, isNew bool, args ...goja.Value) (goja.Value, error) {
	vm := r.scope.vm
	ctor := vm.Get(name)
	if ctor == nil || goja.IsUndefined(ctor) {
		return nil, ErrDataClone(name + " is not supported by this runtime")
	}
	if isNew {
		return vm.New(ctor, args...)
	}
	fn, ok := goja.AssertFunction(ctor)
	if !ok {
		return nil, ErrDataClone(name + " is not callable")
	}
	return fn(goja.Undefined(), args...)
}

// transferOption reads the transfer argument of postMessage or
// structuredClone: a sequence, or a dictionary with a transfer member.
func (s *GlobalScope) transferOption(v goja.Value) ([]goja.Value, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, &typeError{"The provided value cannot be converted to a sequence."}
	}
	if obj.ClassName() != "Array" {
		t := obj.Get("transfer")
		if t == nil || goja.IsUndefined(t) {
			return nil, nil
		}
		v = t
	}
	items, err := s.toSequence(v)
	if err != nil {
		return nil, &typeError{"Failed to read the 'transfer' property: The provided value cannot be converted to a sequence."}
	}
	return items, nil
}

// cloneSummary renders the shape of a serialized value for logs.
func cloneSummary(n *cloneNode) string {
	switch n.kind {
	case cloneUndefined:
		return "undefined"
	case cloneNull:
		return "null"
	case cloneBool:
		return strconv.FormatBool(n.b)
	case cloneInt:
		return strconv.FormatInt(n.i, 10)
	case cloneNumber:
		return strconv.FormatFloat(n.num, 'g', -1, 64)
	case cloneString:
		return strconv.Quote(n.str)
	case cloneArray:
		return fmt.Sprintf("Array(%d)", n.length)
	case cloneMap:
		return fmt.Sprintf("Map(%d)", len(n.children)/2)
	case cloneSet:
		return fmt.Sprintf("Set(%d)", len(n.children))
	case clonePort:
		return "MessagePort"
	case cloneRef:
		return "[circular]"
	}
	return "Object"
}
