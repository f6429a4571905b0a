// Package bytewords implements the bytewords bijection between byte
// strings and four-letter words, as described in [BCR-2020-012]. Only
// the minimal textual form (first+last letter of each word, no
// separators) is implemented; it is the form used by the UR wire
// format.
//
// [BCR-2020-012]: https://github.com/BlockchainCommons/Research/blob/master/papers/bcr-2020-012-bytewords.md
package bytewords

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
)

// ErrorKind classifies a bytewords decode failure.
type ErrorKind int

const (
	// InvalidBytewords means the input could not be parsed as a
	// sequence of minimal bytewords: odd length, too short to hold a
	// checksum, or a letter pair with no entry in the dictionary.
	InvalidBytewords ErrorKind = iota
	// InvalidChecksum means the input parsed but its trailing CRC32
	// does not match the recomputed checksum of the prefix.
	InvalidChecksum
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidBytewords:
		return "invalid bytewords"
	case InvalidChecksum:
		return "invalid checksum"
	default:
		return "unknown bytewords error"
	}
}

// Error reports a bytewords decode failure.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func errorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

type byteview interface {
	~string | ~[]byte
}

// twoLetters returns the first and last letters of the dictionary word
// for byte b.
func twoLetters(b byte) (byte, byte) {
	i := int(b) * 2
	return abbrev[i], abbrev[i+1]
}

// Encode appends a big-endian CRC32 (ISO/HDLC) of data and returns the
// minimal bytewords encoding of the result: two letters per byte.
func Encode(data []byte) string {
	var out strings.Builder
	out.Grow((len(data) + 4) * 2)
	appendByte := func(b byte) {
		l1, l2 := twoLetters(b)
		out.WriteByte(l1)
		out.WriteByte(l2)
	}
	for _, b := range data {
		appendByte(b)
	}
	var checkb [4]byte
	binary.BigEndian.PutUint32(checkb[:], crc32.ChecksumIEEE(data))
	for _, b := range checkb {
		appendByte(b)
	}
	return out.String()
}

// Decode parses a minimal bytewords string, verifies its trailing
// CRC32, and returns the payload with the checksum stripped.
func Decode[T byteview](src T) ([]byte, error) {
	if len(src)%2 != 0 {
		return nil, errorf(InvalidBytewords, "odd-length input")
	}
	payload := make([]byte, len(src)/2)
	if len(payload) < 4 {
		return nil, errorf(InvalidBytewords, "input too short to hold a checksum")
	}
	for i := range payload {
		b, ok := lookup(src[i*2], src[i*2+1])
		if !ok {
			return nil, errorf(InvalidBytewords, "unknown word at position %d", i)
		}
		payload[i] = b
	}
	data, trailer := payload[:len(payload)-4], payload[len(payload)-4:]
	got := binary.BigEndian.Uint32(trailer)
	if want := crc32.ChecksumIEEE(data); got != want {
		return nil, errorf(InvalidChecksum, "got %08x, want %08x", got, want)
	}
	return data, nil
}

// wordIndex maps a (first, last) letter pair back to its dictionary
// byte value, built once from abbrev at package init.
var wordIndex map[[2]byte]byte

func init() {
	wordIndex = make(map[[2]byte]byte, len(abbrev)/2)
	for i := 0; i < len(abbrev)/2; i++ {
		wordIndex[[2]byte{abbrev[i*2], abbrev[i*2+1]}] = byte(i)
	}
}

func lookup(l1, l2 byte) (byte, bool) {
	b, ok := wordIndex[[2]byte{l1, l2}]
	return b, ok
}

// abbrev contains the two-letter abbreviations for the bytewords word list:
// able, acid, also, apex, aqua, arch, atom, aunt,
// away, axis, back, bald, barn, belt, beta, bias,
// blue, body, brag, brew, bulb, buzz, calm, cash,
// cats, chef, city, claw, code, cola, cook, cost,
// crux, curl, cusp, cyan, dark, data, days, deli,
// dice, diet, door, down, draw, drop, drum, dull,
// duty, each, easy, echo, edge, epic, even, exam,
// exit, eyes, fact, fair, fern, figs, film, fish,
// fizz, flap, flew, flux, foxy, free, frog, fuel,
// fund, gala, game, gear, gems, gift, girl, glow,
// good, gray, grim, guru, gush, gyro, half, hang,
// hard, hawk, heat, help, high, hill, holy, hope,
// horn, huts, iced, idea, idle, inch, inky, into,
// iris, iron, item, jade, jazz, join, jolt, jowl,
// judo, jugs, jump, junk, jury, keep, keno, kept,
// keys, kick, kiln, king, kite, kiwi, knob, lamb,
// lava, lazy, leaf, legs, liar, limp, lion, list,
// logo, loud, love, luau, luck, lung, main, many,
// math, maze, memo, menu, meow, mild, mint, miss,
// monk, nail, navy, need, news, next, noon, note,
// numb, obey, oboe, omit, onyx, open, oval, owls,
// paid, part, peck, play, plus, poem, pool, pose,
// puff, puma, purr, quad, quiz, race, ramp, real,
// redo, rich, road, rock, roof, ruby, ruin, runs,
// rust, safe, saga, scar, sets, silk, skew, slot,
// soap, solo, song, stub, surf, swan, taco, task,
// taxi, tent, tied, time, tiny, toil, tomb, toys,
// trip, tuna, twin, ugly, undo, unit, urge, user,
// vast, very, veto, vial, vibe, view, visa, void,
// vows, wall, wand, warm, wasp, wave, waxy, webs,
// what, when, whiz, wolf, work, yank, yawn, yell,
// yoga, yurt, zaps, zero, zest, zinc, zone, zoom.
const abbrev = "aeadaoaxaaahamatayasbkbdbnbtbabsbebybgbwbbbzcmchcscfcycwcecackctcxclcpcndkdadsdidedtdrdndwdpdmdldyeheyeoeeecenemetesftfrfnfsfmfhfzfpfwfxfyfefgflfdgagegrgsgtglgwgdgygmgughgohfhghdhkhthphhhlhyhehnhsidiaieihiyioisinimjejzjnjtjljojsjpjkjykpkoktkskkknkgkekikblblalylflslrlplnltloldlelulklgmnmymhmemomumwmdmtmsmknlnyndnsntnnnenboyoeotoxonolospdptpkpypspmplpepfpaprqdqzrerprlrorhrdrkrfryrnrsrtsesasrssskswstspsosgsbsfsntotktitttdtetytltbtstptatnuyuoutueurvtvyvovlvevwvavdvswlwdwmwpwewywswtwnwzwfwkykynylyaytzszoztzczezm"
