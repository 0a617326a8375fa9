// types.go - Datentypen und Konstanten fuer ML-Operationen
// Dieses Modul definiert den Element-Typ DType fuer Arrays und Checkpoints.
package ml

// DType represents the data type of array elements.
//
// In memory an Array is either DTypeF32 or DTypeI64. DTypeF16 and DTypeBF16
// only describe how float variables are stored in a checkpoint.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
	DTypeI64
)

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeBF16:
		return "bf16"
	case DTypeI64:
		return "i64"
	default:
		return "other"
	}
}

// ParseDType parses the names returned by DType.String. The empty string is f32.
func ParseDType(s string) (DType, bool) {
	switch s {
	case "", "f32":
		return DTypeF32, true
	case "f16":
		return DTypeF16, true
	case "bf16":
		return DTypeBF16, true
	case "i64":
		return DTypeI64, true
	default:
		return DTypeOther, false
	}
}
