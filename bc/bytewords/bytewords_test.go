package bytewords

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestEncoding(t *testing.T) {
	tests := []struct {
		bw      string
		wanthex string
		error   bool
	}{
		{"aeadaolazmjendeoti", "00010280ff", false},
		{"taaddwoeadgdstaslplabghydrpfmkbggufgludprfgmaotpiecffltntddwgmrp", "d9012ca20150c7098580125e2ab0981253468b2dbc5202d8641947da", false},
		// Bad checksum.
		{"taaddwoeadgdstaslplabghydrpfmkbggufgludprfgmaotpiecffltntddwgmrs", "", true},
		{"", "", true},
	}
	for _, test := range tests {
		got, err := Decode(test.bw)
		if err != nil {
			if !test.error {
				t.Errorf("failed to decode %q: %v", test.bw, err)
			}
		} else {
			if test.error {
				t.Errorf("unexpected successful decoding of %q", test.bw)
			}
		}
		if test.error {
			continue
		}
		want, err := hex.DecodeString(test.wanthex)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("decoding %q got %#x, expected %#x", test.bw, got, want)
		}
		roundtrip := Encode(want)
		if roundtrip != test.bw {
			t.Errorf("encoding %s got %s, expected %s", test.wanthex, roundtrip, test.bw)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		bw   string
		kind ErrorKind
	}{
		{"odd length", "a", InvalidBytewords},
		{"too short", "aeae", InvalidBytewords},
		{"unknown word", "zzzzaoax" + "aeadaoax", InvalidBytewords},
		{"bad checksum", "taaddwoeadgdstaslplabghydrpfmkbggufgludprfgmaotpiecffltntddwgmrs", InvalidChecksum},
	}
	for _, test := range tests {
		_, err := Decode(test.bw)
		if err == nil {
			t.Fatalf("%s: expected error", test.name)
		}
		var berr *Error
		if !errors.As(err, &berr) {
			t.Fatalf("%s: error %v is not *Error", test.name, err)
		}
		if berr.Kind != test.kind {
			t.Errorf("%s: got kind %v, want %v", test.name, berr.Kind, test.kind)
		}
	}
}

func TestRoundtripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "data")
		enc := Encode(data)
		got, err := Decode([]byte(enc))
		if err != nil {
			t.Fatalf("decode of our own encoding failed: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("roundtrip mismatch: got %#x, want %#x", got, data)
		}
		// Minimal form is also a bijection from []byte and from string.
		gotFromString, err := Decode[string](enc)
		if err != nil {
			t.Fatalf("decode from string failed: %v", err)
		}
		if !bytes.Equal(gotFromString, data) {
			t.Fatalf("string decode mismatch: got %#x, want %#x", gotFromString, data)
		}
	})
}
