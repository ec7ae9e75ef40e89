package vm

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Program images
// ---------------------------------------------------------------------------

// ImageMagic identifies a serialized program image.
const ImageMagic = "PYRI"

// ImageVersion is the current image format version.
const ImageVersion = 1

// ImageExtension is the file suffix the importer searches for.
const ImageExtension = ".pyri"

// cborEncMode is the canonical encoding used for all image payloads, so
// identical programs hash identically.
var cborEncMode cbor.EncMode

func init() {
	var err error
	cborEncMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoder init: %v", err))
	}
}

// imageEnvelope is the outer frame: magic, version, and an integrity
// hash over the payload bytes.
type imageEnvelope struct {
	Magic   string `cbor:"magic"`
	Version int    `cbor:"version"`
	Hash    []byte `cbor:"hash"`
	Payload []byte `cbor:"payload"`
}

// Constant kinds in image payloads.
const (
	constNone uint8 = iota
	constBool
	constInt
	constFloat
	constStr
	constBytes
	constTuple
	constCode
)

type imageConst struct {
	Kind  uint8        `cbor:"kind"`
	Bool  bool         `cbor:"bool,omitempty"`
	Int   int64        `cbor:"int,omitempty"`
	Float float64      `cbor:"float,omitempty"`
	Str   string       `cbor:"str,omitempty"`
	Bytes []byte       `cbor:"bytes,omitempty"`
	Tuple []imageConst `cbor:"tuple,omitempty"`
	Code  *imageCode   `cbor:"code,omitempty"`
}

type imageCode struct {
	Name     string `cbor:"name"`
	Qualname string `cbor:"qualname"`
	Filename string `cbor:"filename"`

	Bytecode  []byte       `cbor:"bytecode"`
	Constants []imageConst `cbor:"constants"`
	Names     []string     `cbor:"names"`
	Varnames  []string     `cbor:"varnames"`
	Freevars  []string     `cbor:"freevars"`
	Cellvars  []string     `cbor:"cellvars"`

	ArgCount     int    `cbor:"argcount"`
	PosOnlyCount int    `cbor:"posonlycount"`
	KwOnlyCount  int    `cbor:"kwonlycount"`
	StackSize    int    `cbor:"stacksize"`
	FirstLine    int    `cbor:"firstline"`
	Flags        uint16 `cbor:"flags"`
}

// WriteImage serializes a root code object into a versioned, hashed image.
func WriteImage(code *CodeObject) ([]byte, error) {
	ic, err := encodeCode(code)
	if err != nil {
		return nil, err
	}
	payload, err := cborEncMode.Marshal(ic)
	if err != nil {
		return nil, fmt.Errorf("encoding image payload: %w", err)
	}
	hash := sha256.Sum256(payload)
	env := imageEnvelope{
		Magic:   ImageMagic,
		Version: ImageVersion,
		Hash:    hash[:],
		Payload: payload,
	}
	out, err := cborEncMode.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding image envelope: %w", err)
	}
	return out, nil
}

// ReadImage parses and verifies an image, returning the root code object.
func ReadImage(data []byte) (*CodeObject, error) {
	var env imageEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding image envelope: %w", err)
	}
	if env.Magic != ImageMagic {
		return nil, errors.New("not a program image: bad magic")
	}
	if env.Version != ImageVersion {
		return nil, fmt.Errorf("unsupported image version %d", env.Version)
	}
	hash := sha256.Sum256(env.Payload)
	if !bytes.Equal(hash[:], env.Hash) {
		return nil, errors.New("image integrity check failed")
	}
	var ic imageCode
	if err := cbor.Unmarshal(env.Payload, &ic); err != nil {
		return nil, fmt.Errorf("decoding image payload: %w", err)
	}
	return decodeCode(&ic)
}

func encodeCode(code *CodeObject) (*imageCode, error) {
	ic := &imageCode{
		Name:         code.Name,
		Qualname:     code.Qualname,
		Filename:     code.Filename,
		Bytecode:     code.Bytecode,
		Names:        code.Names,
		Varnames:     code.Varnames,
		Freevars:     code.Freevars,
		Cellvars:     code.Cellvars,
		ArgCount:     code.ArgCount,
		PosOnlyCount: code.PosOnlyCount,
		KwOnlyCount:  code.KwOnlyCount,
		StackSize:    code.StackSize,
		FirstLine:    code.FirstLine,
		Flags:        uint16(code.Flags),
	}
	for _, c := range code.Constants {
		ec, err := encodeConst(c)
		if err != nil {
			return nil, err
		}
		ic.Constants = append(ic.Constants, ec)
	}
	return ic, nil
}

func encodeConst(v Value) (imageConst, error) {
	switch {
	case v == None:
		return imageConst{Kind: constNone}, nil
	case v.IsBool():
		return imageConst{Kind: constBool, Bool: v.Bool()}, nil
	case v.IsInt():
		return imageConst{Kind: constInt, Int: v.Int()}, nil
	case v.IsFloat():
		return imageConst{Kind: constFloat, Float: v.Float64()}, nil
	case v.IsStr():
		return imageConst{Kind: constStr, Str: v.StrVal()}, nil
	case v.isKind(KindBytes):
		return imageConst{Kind: constBytes, Bytes: v.Object().Bytes}, nil
	case v.isKind(KindTuple):
		out := imageConst{Kind: constTuple}
		for _, el := range v.Object().Tuple {
			ec, err := encodeConst(el)
			if err != nil {
				return imageConst{}, err
			}
			out.Tuple = append(out.Tuple, ec)
		}
		return out, nil
	case v.isKind(KindCode):
		ic, err := encodeCode(v.Object().Code)
		if err != nil {
			return imageConst{}, err
		}
		return imageConst{Kind: constCode, Code: ic}, nil
	}
	return imageConst{}, fmt.Errorf("constant of type %s is not serializable", TypeName(v))
}

func decodeCode(ic *imageCode) (*CodeObject, error) {
	code := &CodeObject{
		Name:         ic.Name,
		Qualname:     ic.Qualname,
		Filename:     ic.Filename,
		Bytecode:     ic.Bytecode,
		Names:        ic.Names,
		Varnames:     ic.Varnames,
		Freevars:     ic.Freevars,
		Cellvars:     ic.Cellvars,
		ArgCount:     ic.ArgCount,
		PosOnlyCount: ic.PosOnlyCount,
		KwOnlyCount:  ic.KwOnlyCount,
		StackSize:    ic.StackSize,
		FirstLine:    ic.FirstLine,
		Flags:        CodeFlags(ic.Flags),
	}
	for i := range ic.Constants {
		v, err := decodeConst(&ic.Constants[i])
		if err != nil {
			return nil, err
		}
		code.Constants = append(code.Constants, v)
	}
	return code, nil
}

func decodeConst(ic *imageConst) (Value, error) {
	switch ic.Kind {
	case constNone:
		return None, nil
	case constBool:
		return FromBool(ic.Bool), nil
	case constInt:
		return makeInt(ic.Int), nil
	case constFloat:
		return FromFloat64(ic.Float), nil
	case constStr:
		return NewStr(ic.Str), nil
	case constBytes:
		return NewBytes(ic.Bytes), nil
	case constTuple:
		items := make([]Value, 0, len(ic.Tuple))
		for i := range ic.Tuple {
			v, err := decodeConst(&ic.Tuple[i])
			if err != nil {
				return None, err
			}
			items = append(items, v)
		}
		return NewTuple(items), nil
	case constCode:
		code, err := decodeCode(ic.Code)
		if err != nil {
			return None, err
		}
		return NewCodeValue(code), nil
	}
	return None, fmt.Errorf("unknown constant kind %d", ic.Kind)
}
