package notice

import (
	"encoding/binary"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	for _, n := range allVariants() {
		t.Run(n.Kind().String(), func(t *testing.T) {
			data, err := Marshal(n)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			back, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !reflect.DeepEqual(n, back) {
				t.Fatalf("got %#v, want %#v", back, n)
			}
		})
	}
}

func TestWireStartsWithDiscriminator(t *testing.T) {
	data, err := Marshal(&AliasAdded{Identity: alice, Alias: "ali"})
	if err != nil {
		t.Fatal(err)
	}
	n := binary.BigEndian.Uint16(data[0:2])
	if got := string(data[2 : 2+n]); got != "alias added" {
		t.Fatalf("got discriminator %q", got)
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	data, err := Marshal(&MessagePosted{Message: testMessage(), Bout: testBout()})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(data); i++ {
		if _, err := Unmarshal(data[:i]); !errors.Is(err, ErrShortData) {
			t.Fatalf("prefix of %d bytes: got %v", i, err)
		}
	}
}

func TestUnmarshalRejects(t *testing.T) {
	unknown := binary.BigEndian.AppendUint16(nil, 4)
	unknown = append(unknown, "nope"...)
	if _, err := Unmarshal(unknown); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("unknown kind: got %v", err)
	}

	data, _ := Marshal(&AliasAdded{Identity: alice, Alias: "ali"})
	if _, err := Unmarshal(append(data, 0)); !errors.Is(err, ErrInvalid) {
		t.Errorf("trailing byte: got %v", err)
	}
}

func TestMarshalRejectsLongStrings(t *testing.T) {
	_, err := Marshal(&AliasAdded{Identity: alice, Alias: strings.Repeat("a", 1<<16)})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("got %v", err)
	}
}
