package protocol

import "fmt"

// Data coding scheme values used by this client.
const (
	DCSDefaultAlphabet = 0x00
	DCS8Bit            = 0x04
	DCSUCS2            = 0x08
	DCSCompressed      = 0x20
)

type UserDataKind int

const (
	UserDataText UserDataKind = iota + 1
	UserDataBinary
)

func (k UserDataKind) String() string {
	switch k {
	case UserDataText:
		return "text"
	case UserDataBinary:
		return "binary"
	default:
		return fmt.Sprintf("UserDataKind(%d)", int(k))
	}
}

// UserData is a message body: text (parameter 33) or binary (parameter 34),
// with an optional user data header (parameter 32).
type UserData struct {
	kind       UserDataKind
	text       string
	binary     []byte
	header     []byte
	dataCoding int
}

func TextUserData(text string, header []byte, dataCoding int) UserData {
	return UserData{
		kind:       UserDataText,
		text:       text,
		header:     cloneBytes(header),
		dataCoding: dataCoding,
	}
}

func BinaryUserData(body []byte, header []byte, dataCoding int) (UserData, error) {
	if body == nil {
		return UserData{}, ErrMissingBody
	}
	return UserData{
		kind:       UserDataBinary,
		binary:     cloneBytes(body),
		header:     cloneBytes(header),
		dataCoding: dataCoding,
	}, nil
}

func (u UserData) Kind() UserDataKind {
	return u.kind
}

func (u UserData) IsBinary() bool {
	return u.kind == UserDataBinary
}

// Header returns the user data header, nil when absent.
func (u UserData) Header() []byte {
	return cloneBytes(u.header)
}

func (u UserData) DataCoding() int {
	return u.dataCoding
}

func (u UserData) Body() (string, error) {
	if u.kind != UserDataText {
		return "", fmt.Errorf("%w: %s user data has no text body", ErrWrongVariant, u.kind)
	}
	return u.text, nil
}

func (u UserData) BinaryBody() ([]byte, error) {
	if u.kind != UserDataBinary {
		return nil, fmt.Errorf("%w: %s user data has no binary body", ErrWrongVariant, u.kind)
	}
	return cloneBytes(u.binary), nil
}

// Validate fails for a zero UserData, which has no body slot to render.
func (u UserData) Validate() error {
	switch u.kind {
	case UserDataText, UserDataBinary:
		return nil
	}
	return fmt.Errorf("%w: user data kind %s", ErrUnsetVariant, u.kind)
}

// Parameters renders u in wire order: coding scheme, header, then body.
func (u UserData) Parameters() []Parameter {
	out := []Parameter{IntParameter(ParamDataCodingScheme, u.dataCoding)}
	if u.header != nil {
		out = append(out, BytesParameter(ParamUserDataHeader, u.header))
	}
	switch u.kind {
	case UserDataText:
		out = append(out, Param(ParamUserData, u.text))
	case UserDataBinary:
		out = append(out, BytesParameter(ParamUserDataBinary, u.binary))
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
