// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueAsString dispatches value_as_string (spec.md §4.2): immediates are
// formatted, custom types invoke their Cast callback with output target
// TagString.
func (r *TypeRegistry) ValueAsString(v Value, ctx ZoneContext) (string, error) {
	switch v.Tag {
	case TagString:
		return v.ResolveString(ctx)
	case TagUint:
		return strconv.FormatInt(int64(v.Num), 10), nil
	case TagFloat:
		return formatFloat(v.AsFloatBits(0)), nil
	default:
		d, ok := r.Lookup(v.Tag)
		if !ok || d.Cast == nil {
			return "", fmt.Errorf("%w: type %d has no Cast", ErrTypeMismatch, v.Tag)
		}
		reg := RegisterStorage([]Value{v})
		outReg := RegisterStorage([]Value{{}})
		if err := d.Cast(reg, TagString, outReg); err != nil {
			return "", err
		}
		return outReg.Regs[0].ResolveString(ctx)
	}
}

// ValueAsInt dispatches value_as_int. Integers round from a truncated
// float; strings parse via StringToNumber; customs cast through Cast to
// TagUint.
func (r *TypeRegistry) ValueAsInt(v Value, ctx ZoneContext) (int64, error) {
	switch v.Tag {
	case TagUint:
		return int64(v.Num), nil
	case TagFloat:
		return int64(v.AsFloatBits(0)), nil
	case TagString:
		s, err := v.ResolveString(ctx)
		if err != nil {
			return 0, err
		}
		return int64(StringToNumber(s)), nil
	default:
		d, ok := r.Lookup(v.Tag)
		if !ok || d.Cast == nil {
			return 0, fmt.Errorf("%w: type %d has no Cast", ErrTypeMismatch, v.Tag)
		}
		var out Value
		if err := d.Cast(RegisterStorage([]Value{v}), TagUint, RegisterStorage([]Value{out})); err != nil {
			return 0, err
		}
		return int64(out.Num), nil
	}
}

// ValueAsFloat dispatches value_as_float.
func (r *TypeRegistry) ValueAsFloat(v Value, ctx ZoneContext) (float64, error) {
	switch v.Tag {
	case TagFloat:
		return v.AsFloatBits(0), nil
	case TagUint:
		return float64(int64(v.Num)), nil
	case TagString:
		s, err := v.ResolveString(ctx)
		if err != nil {
			return 0, err
		}
		return StringToNumber(s), nil
	default:
		d, ok := r.Lookup(v.Tag)
		if !ok || d.Cast == nil {
			return 0, fmt.Errorf("%w: type %d has no Cast", ErrTypeMismatch, v.Tag)
		}
		var out Value
		if err := d.Cast(RegisterStorage([]Value{v}), TagFloat, RegisterStorage([]Value{out})); err != nil {
			return 0, err
		}
		return out.AsFloatBits(0), nil
	}
}

// StringToNumber implements spec.md §4.2's "String-to-number" rule: a
// locale-independent parse (Go's strconv is already locale-independent,
// unlike C's strtod); "true"/"false" fall back to 1/0; anything else
// non-numeric yields 0.
func StringToNumber(s string) float64 {
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return f
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return 1
	case "false":
		return 0
	}
	return 0
}

// ValueAsBool implements spec.md §4.2's boolean interpretation: non-zero
// number / non-empty-non-"0" string / non-null custom is true.
func (r *TypeRegistry) ValueAsBool(v Value, ctx ZoneContext) (bool, error) {
	switch v.Tag {
	case TagUint:
		return v.Num != 0, nil
	case TagFloat:
		return v.AsFloatBits(0) != 0, nil
	case TagString:
		s, err := v.ResolveString(ctx)
		if err != nil {
			return false, err
		}
		return s != "" && s != "0", nil
	default:
		return !v.IsNull(), nil
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// IntDivide implements spec.md §4.2's "Integer division by zero: result is
// 0 (not a trap); same for modulo."
func IntDivide(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// IntModulo is IntDivide's modulo counterpart.
func IntModulo(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return a % b
}

// PerformOp dispatches perform_op (spec.md §4.2): the RHS type is used for
// binary operators (lhs type for a comparison where RHS is immediate and
// LHS is custom falls through the same rule — "if either side is an
// immediate and the other is custom, the immediate is passed through
// as-is"); numeric and string comparisons take hard-coded fast paths so
// the common case never reaches a callback.
func (r *TypeRegistry) PerformOp(op Opcode, lhs, rhs Value, ctx ZoneContext) (Value, error) {
	// Fast path: both operands are builtin numeric (uint or float).
	if isBuiltinNumeric(lhs.Tag) && isBuiltinNumeric(rhs.Tag) {
		if v, ok, err := numericOp(r, op, lhs, rhs, ctx); ok {
			return v, err
		}
	}
	// Fast path: both operands are builtin strings.
	if lhs.Tag == TagString && rhs.Tag == TagString {
		if v, ok, err := stringOp(r, op, lhs, rhs, ctx); ok {
			return v, err
		}
	}

	// Dispatch type: the RHS for binary ops picks the callback, unless RHS
	// is immediate and LHS is custom, in which case LHS's callback runs
	// with the immediate passed through untouched.
	dispatchTag := rhs.Tag
	if isImmediate(rhs.Tag) && lhs.IsCustom() {
		dispatchTag = lhs.Tag
	}
	if dispatchTag < TagCustomBase {
		// Both sides builtin but not both numeric/both string (e.g. an
		// int compared to a string): convert both sides with ValueAsFloat
		// and compute the result in the float domain.
		return r.performMixedBuiltinOp(op, lhs, rhs, ctx)
	}
	d, ok := r.Lookup(dispatchTag)
	if !ok || d.PerformOp == nil {
		return Value{}, fmt.Errorf("%w: type %d has no PerformOp", ErrTypeMismatch, dispatchTag)
	}
	return d.PerformOp(op, lhs, rhs)
}

func (r *TypeRegistry) performMixedBuiltinOp(op Opcode, lhs, rhs Value, ctx ZoneContext) (Value, error) {
	switch op {
	case OpCmpEQ, OpCmpNE, OpCmpGR, OpCmpGE, OpCmpLT, OpCmpLE:
		lf, err := r.ValueAsFloat(lhs, ctx)
		if err != nil {
			return Value{}, err
		}
		rf, err := r.ValueAsFloat(rhs, ctx)
		if err != nil {
			return Value{}, err
		}
		return compareFloat(op, lf, rf), nil
	default:
		lf, err := r.ValueAsFloat(lhs, ctx)
		if err != nil {
			return Value{}, err
		}
		rf, err := r.ValueAsFloat(rhs, ctx)
		if err != nil {
			return Value{}, err
		}
		return arithFloat(op, lf, rf)
	}
}

func isBuiltinNumeric(t TypeTag) bool { return t == TagUint || t == TagFloat }
func isImmediate(t TypeTag) bool      { return t == TagUint || t == TagFloat }

func numericOp(r *TypeRegistry, op Opcode, lhs, rhs Value, ctx ZoneContext) (Value, bool, error) {
	if lhs.Tag == TagUint && rhs.Tag == TagUint {
		a, b := int64(lhs.Num), int64(rhs.Num)
		switch op {
		case OpAdd:
			return MakeUint(uint64(a + b)), true, nil
		case OpSub:
			return MakeUint(uint64(a - b)), true, nil
		case OpMul:
			return MakeUint(uint64(a * b)), true, nil
		case OpDiv:
			return MakeUint(uint64(IntDivide(a, b))), true, nil
		case OpMod:
			return MakeUint(uint64(IntModulo(a, b))), true, nil
		case OpBitAnd:
			return MakeUint(uint64(a & b)), true, nil
		case OpBitOr:
			return MakeUint(uint64(a | b)), true, nil
		case OpXor:
			return MakeUint(uint64(a ^ b)), true, nil
		case OpShl:
			return MakeUint(uint64(a << uint64(b))), true, nil
		case OpShr:
			return MakeUint(uint64(a >> uint64(b))), true, nil
		case OpCmpEQ, OpCmpNE, OpCmpGR, OpCmpGE, OpCmpLT, OpCmpLE:
			v, err := compareInt(op, a, b), error(nil)
			return v, true, err
		}
		return Value{}, false, nil
	}
	lf, err := r.ValueAsFloat(lhs, ctx)
	if err != nil {
		return Value{}, true, err
	}
	rf, err := r.ValueAsFloat(rhs, ctx)
	if err != nil {
		return Value{}, true, err
	}
	switch op {
	case OpCmpEQ, OpCmpNE, OpCmpGR, OpCmpGE, OpCmpLT, OpCmpLE:
		return compareFloat(op, lf, rf), true, nil
	default:
		v, err := arithFloat(op, lf, rf)
		return v, true, err
	}
}

func arithFloat(op Opcode, a, b float64) (Value, error) {
	switch op {
	case OpAdd:
		return MakeFloat(a + b), nil
	case OpSub:
		return MakeFloat(a - b), nil
	case OpMul:
		return MakeFloat(a * b), nil
	case OpDiv:
		if b == 0 {
			return MakeFloat(0), nil
		}
		return MakeFloat(a / b), nil
	default:
		return Value{}, fmt.Errorf("%w: opcode %s not valid for float arithmetic", ErrBadOpcode, op)
	}
}

func compareInt(op Opcode, a, b int64) Value {
	var r bool
	switch op {
	case OpCmpEQ:
		r = a == b
	case OpCmpNE:
		r = a != b
	case OpCmpGR:
		r = a > b
	case OpCmpGE:
		r = a >= b
	case OpCmpLT:
		r = a < b
	case OpCmpLE:
		r = a <= b
	}
	return boolValue(r)
}

func compareFloat(op Opcode, a, b float64) Value {
	var r bool
	switch op {
	case OpCmpEQ:
		r = a == b
	case OpCmpNE:
		r = a != b
	case OpCmpGR:
		r = a > b
	case OpCmpGE:
		r = a >= b
	case OpCmpLT:
		r = a < b
	case OpCmpLE:
		r = a <= b
	}
	return boolValue(r)
}

func boolValue(b bool) Value {
	if b {
		return MakeUint(1)
	}
	return MakeUint(0)
}

func stringOp(r *TypeRegistry, op Opcode, lhs, rhs Value, ctx ZoneContext) (Value, bool, error) {
	ls, err := lhs.ResolveString(ctx)
	if err != nil {
		return Value{}, true, err
	}
	rs, err := rhs.ResolveString(ctx)
	if err != nil {
		return Value{}, true, err
	}
	switch op {
	case OpCmpEQ:
		return boolValue(ls == rs), true, nil
	case OpCmpNE:
		return boolValue(ls != rs), true, nil
	case OpCmpGR:
		return boolValue(ls > rs), true, nil
	case OpCmpGE:
		return boolValue(ls >= rs), true, nil
	case OpCmpLT:
		return boolValue(ls < rs), true, nil
	case OpCmpLE:
		return boolValue(ls <= rs), true, nil
	}
	return Value{}, false, nil
}
