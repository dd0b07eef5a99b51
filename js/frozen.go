package js

import "github.com/dop251/goja"

// toFrozenArray returns a new frozen array holding items in order.
func (s *GlobalScope) toFrozenArray(items []goja.Value) *goja.Object {
	elems := make([]interface{}, len(items))
	for i, v := range items {
		elems[i] = v
	}
	arr := s.vm.NewArray(elems...)
	if s.freeze != nil {
		if _, err := s.freeze(goja.Undefined(), arr); err != nil {
			s.logger.Error("Object.freeze failed", "error", err)
		}
	}
	return arr
}

// messagePortsToFrozenArray snapshots ports as a frozen array of their
// wrappers. Each call returns a new array; mutating one never touches ports.
func (s *GlobalScope) messagePortsToFrozenArray(ports []Dom[*MessagePort]) goja.Value {
	items := make([]goja.Value, 0, len(ports))
	for _, h := range ports {
		if p := h.Get(); p != nil {
			items = append(items, p.Object())
		}
	}
	return s.toFrozenArray(items)
}
