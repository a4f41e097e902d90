package socketio

import (
	"errors"
	"fmt"
)

// maxAttachments bounds the attachment count a binary packet header may
// announce.
const maxAttachments = 1000

var (
	errPlaceholderRange     = errors.New("placeholder index out of range")
	errPlaceholderDuplicate = errors.New("placeholder index used twice")
	errAttachmentUnused     = errors.New("attachment not referenced by any placeholder")
)

// reconstruct replaces every {"_placeholder":true,"num":N} object in v with
// the N-th attachment. Each attachment must be referenced exactly once.
func reconstruct(v Value, buffers [][]byte) (Value, error) {
	used := make([]bool, len(buffers))
	out, err := fill(v, buffers, used)
	if err != nil {
		return Value{}, err
	}
	for i, ok := range used {
		if !ok {
			return Value{}, fmt.Errorf("%w: %d of %d", errAttachmentUnused, i, len(buffers))
		}
	}
	return out, nil
}

func fill(v Value, buffers [][]byte, used []bool) (Value, error) {
	switch v.Kind() {
	case KindArray:
		items := make([]Value, len(v.arr))
		for i, item := range v.arr {
			r, err := fill(item, buffers, used)
			if err != nil {
				return Value{}, err
			}
			items[i] = r
		}
		return Array(items...), nil
	case KindObject:
		if num, ok := placeholderNum(v); ok {
			if num < 0 || num >= int64(len(buffers)) {
				return Value{}, fmt.Errorf("%w: %d of %d", errPlaceholderRange, num, len(buffers))
			}
			if used[num] {
				return Value{}, fmt.Errorf("%w: %d", errPlaceholderDuplicate, num)
			}
			used[num] = true
			return Bytes(buffers[num]), nil
		}
		fields := make(map[string]Value, len(v.obj))
		for k, field := range v.obj {
			r, err := fill(field, buffers, used)
			if err != nil {
				return Value{}, err
			}
			fields[k] = r
		}
		return Object(fields), nil
	default:
		return v, nil
	}
}

func placeholderNum(v Value) (int64, bool) {
	if flag, ok := v.Get("_placeholder").AsBool(); !ok || !flag {
		return 0, false
	}
	return v.Get("num").AsInt64()
}
