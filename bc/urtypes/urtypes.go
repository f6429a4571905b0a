// Package urtypes implements decoders for UR types specified in [BCR-2020-006].
//
// [BCR-2020-006]: https://github.com/BlockchainCommons/Research/blob/master/papers/bcr-2020-006-urtypes.md
package urtypes

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/fxamacker/cbor/v2"

	"seedhammer.com/bip39"
)

// Domain types. These are the values callers construct and receive;
// everything below them is wire-format plumbing.

type OutputDescriptor struct {
	Script    Script
	Threshold int
	Type      MultisigType
	Keys      []KeyDescriptor
}

type KeyDescriptor struct {
	Network           *chaincfg.Params
	MasterFingerprint uint32
	DerivationPath    Path
	Children          []Derivation
	KeyData           []byte
	ChainCode         []byte
	ParentFingerprint uint32
}

type Derivation struct {
	Type DerivationType
	// Index is the child index, without the hardening offset.
	// For RangeDerivations, Index is the start of the range.
	Index    uint32
	Hardened bool
	// End represents the end of a RangeDerivation.
	End uint32
}

type DerivationType int

const (
	ChildDerivation DerivationType = iota
	WildcardDerivation
	RangeDerivation
)

type Script int

const (
	UnknownScript Script = iota
	P2SH
	P2SH_P2WSH
	P2SH_P2WPKH
	P2PKH
	P2WSH
	P2WPKH
	P2TR
)

func (s Script) String() string {
	switch s {
	case P2SH:
		return "Legacy (P2SH)"
	case P2SH_P2WSH:
		return "Nested Segwit (P2SH-P2WSH)"
	case P2SH_P2WPKH:
		return "Nested Segwit (P2SH-P2WPKH)"
	case P2PKH:
		return "Legacy (P2PKH)"
	case P2WSH:
		return "Segwit (P2WSH)"
	case P2WPKH:
		return "Segwit (P2WPKH)"
	case P2TR:
		return "Taproot (P2TR)"
	default:
		return "Unknown"
	}
}

type MultisigType int

const (
	Singlesig MultisigType = iota
	Multi
	SortedMulti
)

type Path []uint32

func (p Path) components() []any {
	var comp []any
	for _, c := range p {
		hard := c >= hdkeychain.HardenedKeyStart
		if hard {
			c -= hdkeychain.HardenedKeyStart
		}
		comp = append(comp, c, hard)
	}
	return comp
}

func (p Path) String() string {
	var d strings.Builder
	d.WriteRune('m')
	for _, c := range p {
		d.WriteByte('/')
		idx := c
		if c >= hdkeychain.HardenedKeyStart {
			idx -= hdkeychain.HardenedKeyStart
		}
		d.WriteString(strconv.Itoa(int(idx)))
		if c >= hdkeychain.HardenedKeyStart {
			d.WriteRune('h')
		}
	}
	return d.String()
}

// DerivationPath returns the standard derivation path
// for descriptor. It returns nil if the path is unknown.
func (o OutputDescriptor) DerivationPath() Path {
	switch {
	case o.Script == P2WPKH:
		return Path{
			hdkeychain.HardenedKeyStart + 84,
			hdkeychain.HardenedKeyStart + 0,
			hdkeychain.HardenedKeyStart + 0,
		}
	case o.Script == P2PKH:
		return Path{
			hdkeychain.HardenedKeyStart + 44,
			hdkeychain.HardenedKeyStart + 0,
			hdkeychain.HardenedKeyStart + 0,
		}
	case o.Script == P2SH_P2WPKH:
		return Path{
			hdkeychain.HardenedKeyStart + 49,
			hdkeychain.HardenedKeyStart + 0,
			hdkeychain.HardenedKeyStart + 0,
		}
	case o.Script == P2TR:
		return Path{
			hdkeychain.HardenedKeyStart + 86,
			hdkeychain.HardenedKeyStart + 0,
			hdkeychain.HardenedKeyStart + 0,
		}
	case o.Script == P2SH:
		return Path{
			hdkeychain.HardenedKeyStart + 45,
		}
	case o.Script == P2SH_P2WSH:
		return Path{
			hdkeychain.HardenedKeyStart + 48,
			hdkeychain.HardenedKeyStart + 0,
			hdkeychain.HardenedKeyStart + 0,
			hdkeychain.HardenedKeyStart + 1,
		}
	case o.Script == P2WSH:
		return Path{
			hdkeychain.HardenedKeyStart + 48,
			hdkeychain.HardenedKeyStart + 0,
			hdkeychain.HardenedKeyStart + 0,
			hdkeychain.HardenedKeyStart + 2,
		}
	}
	return nil
}

// scriptTagSeqs maps each script kind to the CBOR tag sequence that
// wraps a crypto-output payload, outermost tag first. Longer sequences
// are listed before the prefixes they share (P2SH_P2WSH/P2SH_P2WPKH
// before the bare P2SH they both start with) so a prefix match picks
// the most specific script.
var scriptTagSeqs = []struct {
	Script Script
	Tags   []uint64
}{
	{P2SH_P2WSH, []uint64{tagSH, tagWSH}},
	{P2SH_P2WPKH, []uint64{tagSH, tagWPKH}},
	{P2SH, []uint64{tagSH}},
	{P2PKH, []uint64{tagP2PKH}},
	{P2WSH, []uint64{tagWSH}},
	{P2WPKH, []uint64{tagWPKH}},
	{P2TR, []uint64{tagTR}},
}

func tagsForScript(s Script) ([]uint64, bool) {
	for _, cand := range scriptTagSeqs {
		if cand.Script == s {
			return cand.Tags, true
		}
	}
	return nil, false
}

// matchScriptTags finds the script whose tag sequence is a prefix of
// tags, returning how many tags it consumed.
func matchScriptTags(tags []uint64) (Script, int, bool) {
	for _, cand := range scriptTagSeqs {
		if len(tags) < len(cand.Tags) {
			continue
		}
		matched := true
		for i, want := range cand.Tags {
			if tags[i] != want {
				matched = false
				break
			}
		}
		if matched {
			return cand.Script, len(cand.Tags), true
		}
	}
	return UnknownScript, 0, false
}

// Encode the output descriptor in the format described by
// [BCR-2020-010].
//
// [BCR-2020-010]: https://github.com/BlockchainCommons/Research/blob/master/papers/bcr-2020-010-output-desc.md
func (o OutputDescriptor) Encode() []byte {
	var v any
	switch o.Type {
	case Multi, SortedMulti:
		m := struct {
			Threshold int        `cbor:"1,keyasint,omitempty"`
			Keys      []cbor.Tag `cbor:"2,keyasint"`
		}{
			Threshold: o.Threshold,
		}
		for _, k := range o.Keys {
			m.Keys = append(m.Keys, cbor.Tag{
				Number:  tagHDKey,
				Content: k.toCBOR(),
			})
		}
		tag := tagMulti
		if o.Type == SortedMulti {
			tag = tagSortedMulti
		}
		v = cbor.Tag{
			Number:  uint64(tag),
			Content: m,
		}
	case Singlesig:
		v = cbor.Tag{
			Number:  tagHDKey,
			Content: o.Keys[0].toCBOR(),
		}
	default:
		panic("invalid type")
	}
	tags, ok := tagsForScript(o.Script)
	if !ok {
		panic("invalid type")
	}
	for i := len(tags) - 1; i >= 0; i-- {
		v = cbor.Tag{
			Number:  tags[i],
			Content: v,
		}
	}
	enc, err := encMode.Marshal(v)
	if err != nil {
		panic(err)
	}
	return enc
}

func (k KeyDescriptor) ExtendedKey() *hdkeychain.ExtendedKey {
	var fp [4]byte
	binary.BigEndian.PutUint32(fp[:], k.ParentFingerprint)
	childNum := uint32(0)
	if len(k.DerivationPath) > 0 {
		childNum = k.DerivationPath[len(k.DerivationPath)-1]
	}
	return hdkeychain.NewExtendedKey(
		k.Network.HDPublicKeyID[:],
		k.KeyData, k.ChainCode, fp[:], uint8(len(k.DerivationPath)),
		childNum, false,
	)
}

func (k KeyDescriptor) String() string {
	return k.ExtendedKey().String()
}

func networkCoinInfo(n *chaincfg.Params) int {
	if n == &chaincfg.TestNet3Params {
		return testnet
	}
	return mainnet
}

func coinInfoNetwork(n int) (*chaincfg.Params, error) {
	switch n {
	case mainnet:
		return &chaincfg.MainNetParams, nil
	case testnet:
		return &chaincfg.TestNet3Params, nil
	default:
		return nil, fmt.Errorf("ur: unknown coininfo network %d", n)
	}
}

// toCBOR builds the wire representation of k in the format described
// by [BCR-2020-007].
//
// [BCR-2020-007]: https://github.com/BlockchainCommons/Research/blob/master/papers/bcr-2020-007-hdkey.md
func (k KeyDescriptor) toCBOR() cborHDKey {
	children := make([]any, 0, 2*len(k.Children))
	for _, c := range k.Children {
		children = append(children, derivationToComponents(c)...)
	}
	// No need to store the depth separately if the derivation path is
	// already present: its length is the depth.
	depth := 0
	return cborHDKey{
		UseInfo: cborCoinInfo{
			Network: networkCoinInfo(k.Network),
		},
		KeyData:           k.KeyData,
		ChainCode:         k.ChainCode,
		ParentFingerprint: k.ParentFingerprint,
		Origin: cborKeyOrigin{
			Fingerprint: k.MasterFingerprint,
			Depth:       uint8(depth),
			Components:  k.DerivationPath.components(),
		},
		Children: cborKeyOrigin{
			Components: children,
		},
	}
}

func derivationToComponents(c Derivation) []any {
	switch c.Type {
	case RangeDerivation:
		return []any{[]any{c.Index, c.End}, c.Hardened}
	case WildcardDerivation:
		return []any{[]any{}, c.Hardened}
	default:
		return []any{c.Index, c.Hardened}
	}
}

// Encode the key in the format described by [BCR-2020-007].
//
// [BCR-2020-007]: https://github.com/BlockchainCommons/Research/blob/master/papers/bcr-2020-007-hdkey.md
func (k KeyDescriptor) Encode() []byte {
	b, err := encMode.Marshal(k.toCBOR())
	if err != nil {
		// Always valid by construction.
		panic(err)
	}
	return b
}

// Seed material and the BIP-39 word-list payload.

type seed struct {
	Payload []byte `cbor:"1,keyasint"`
}

// Mnemonic is the word-list representation of a BIP-39 seed phrase, as
// carried by the crypto-bip39 UR type.
type Mnemonic struct {
	Words []string
	Lang  string
}

type cborMnemonic struct {
	Words []string `cbor:"1,keyasint"`
	Lang  string   `cbor:"2,keyasint,omitempty"`
}

// Seed derives the BIP-32 master seed for m under password, validating
// the word list and its checksum against the English BIP-39 wordlist
// along the way.
func (m Mnemonic) Seed(password string) ([]byte, error) {
	words, err := bip39.ParseMnemonic(strings.Join(m.Words, " "))
	if err != nil {
		return nil, fmt.Errorf("ur: crypto-bip39: %w", err)
	}
	return bip39.MnemonicSeed(words, password), nil
}

// EncodeMnemonic encodes m as the {1: [words], 2: lang} map used by the
// crypto-bip39 UR type.
func EncodeMnemonic(m Mnemonic) []byte {
	b, err := encMode.Marshal(cborMnemonic{Words: m.Words, Lang: m.Lang})
	if err != nil {
		// Always valid by construction.
		panic(err)
	}
	return b
}

func parseMnemonic(enc []byte) (Mnemonic, error) {
	// Some producers wrap the map in tag 301 (or the legacy 40310);
	// others, matching the worked UR research-paper fixture, emit the
	// bare map. Accept both.
	if unwrapped, ok := stripOptionalTag(enc, tagBIP39, tagBIP39Legacy); ok {
		enc = unwrapped
	}
	var m cborMnemonic
	if err := decMode.Unmarshal(enc, &m); err != nil {
		return Mnemonic{}, fmt.Errorf("ur: crypto-bip39 decoding failed: %w", err)
	}
	if len(m.Words) == 0 {
		return Mnemonic{}, errors.New("ur: crypto-bip39 has no words")
	}
	return Mnemonic{Words: m.Words, Lang: m.Lang}, nil
}

func stripOptionalTag(enc []byte, tags ...uint64) ([]byte, bool) {
	var raw cbor.RawTag
	if err := decMode.Unmarshal(enc, &raw); err != nil {
		return nil, false
	}
	for _, t := range tags {
		if raw.Number == t {
			return raw.Content, true
		}
	}
	return nil, false
}

// EncodeBytes encodes an opaque payload (a PSBT or any other generic
// byte blob) as a CBOR byte string.
func EncodeBytes(payload []byte) []byte {
	b, err := encMode.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return b
}

// Wire types and their tag numbers. Struct tags below are part of the
// BCR-2020-007 wire format and must not change.

type cborMultisig struct {
	Threshold int               `cbor:"1,keyasint"`
	Keys      []cbor.RawMessage `cbor:"2,keyasint"`
}

type cborHDKey struct {
	IsMaster          bool          `cbor:"1,keyasint,omitempty"`
	IsPrivate         bool          `cbor:"2,keyasint,omitempty"`
	KeyData           []byte        `cbor:"3,keyasint"`
	ChainCode         []byte        `cbor:"4,keyasint,omitempty"`
	UseInfo           cborCoinInfo  `cbor:"5,keyasint,omitempty"`
	Origin            cborKeyOrigin `cbor:"6,keyasint,omitempty"`
	Children          cborKeyOrigin `cbor:"7,keyasint,omitempty"`
	ParentFingerprint uint32        `cbor:"8,keyasint,omitempty"`
}

type cborCoinInfo struct {
	Type    uint32 `cbor:"1,keyasint,omitempty"`
	Network int    `cbor:"2,keyasint,omitempty"`
}

type cborKeyOrigin struct {
	Components  []any  `cbor:"1,keyasint,omitempty"`
	Fingerprint uint32 `cbor:"2,keyasint,omitempty"`
	Depth       uint8  `cbor:"3,keyasint,omitempty"`
}

const (
	tagHDKey   = 303
	tagKeyPath = 304
	tagUseInfo = 305

	tagSH    = 400
	tagWSH   = 401
	tagP2PKH = 403
	tagWPKH  = 404
	tagTR    = 409

	tagMulti       = 406
	tagSortedMulti = 407

	tagBIP39       = 301
	tagBIP39Legacy = 40310
)

const mainnet = 0
const testnet = 1

var encMode cbor.EncMode
var decMode cbor.DecMode

// taggedTypes lists the struct types that need an explicit CBOR tag
// number registered with the library, so init can register them in a
// loop instead of one duplicated block per type.
var taggedTypes = []struct {
	typ  reflect.Type
	num  uint64
	opts cbor.TagOptions
}{
	{reflect.TypeOf(cborHDKey{}), tagHDKey, cbor.TagOptions{DecTag: cbor.DecTagOptional}},
	{reflect.TypeOf(cborKeyOrigin{}), tagKeyPath, cbor.TagOptions{DecTag: cbor.DecTagOptional, EncTag: cbor.EncTagRequired}},
	{reflect.TypeOf(cborCoinInfo{}), tagUseInfo, cbor.TagOptions{DecTag: cbor.DecTagOptional, EncTag: cbor.EncTagRequired}},
}

func init() {
	tags := cbor.NewTagSet()
	for _, t := range taggedTypes {
		if err := tags.Add(t.opts, t.typ, t.num); err != nil {
			panic(err)
		}
	}
	em, err := cbor.CoreDetEncOptions().EncModeWithTags(tags)
	if err != nil {
		panic(err)
	}
	encMode = em
	dm, err := cbor.DecOptions{}.DecModeWithTags(tags)
	if err != nil {
		panic(err)
	}
	decMode = dm
}

// typeParsers dispatches Parse's decoding by UR type name. Each parser
// returns the decoded domain value.
var typeParsers = map[string]func([]byte) (any, error){
	"crypto-seed": func(enc []byte) (any, error) {
		var s seed
		if err := decMode.Unmarshal(enc, &s); err != nil {
			return nil, err
		}
		return s, nil
	},
	"crypto-output": func(enc []byte) (any, error) {
		return parseOutputDescriptor(decMode, enc)
	},
	"crypto-hdkey": func(enc []byte) (any, error) {
		return parseHDKey(enc)
	},
	"crypto-bip39": func(enc []byte) (any, error) {
		return parseMnemonic(enc)
	},
}

func Parse(typ string, enc []byte) (any, error) {
	switch typ {
	case "bytes", "crypto-psbt":
		// Opaque payloads: the PSBT wire format and any other
		// generic byte blob are major-type-2 CBOR byte strings with
		// no further structure at this layer.
		var content []byte
		if err := decMode.Unmarshal(enc, &content); err != nil {
			return nil, fmt.Errorf("ur: %s decoding failed: %w", typ, err)
		}
		return content, nil
	}
	parser, ok := typeParsers[typ]
	if !ok {
		return nil, fmt.Errorf("ur: unknown type %q", typ)
	}
	value, err := parser(enc)
	if err != nil {
		return nil, fmt.Errorf("ur: %s: %w", typ, err)
	}
	return value, nil
}

func parseHDKey(enc []byte) (KeyDescriptor, error) {
	var k cborHDKey
	if err := decMode.Unmarshal(enc, &k); err != nil {
		return KeyDescriptor{}, fmt.Errorf("ur: crypto-hdkey decoding failed: %w", err)
	}
	const cointypeBTC = 0
	if k.UseInfo.Type != cointypeBTC {
		return KeyDescriptor{}, fmt.Errorf("ur: crypto-hdkey key has unsupported coin type %d", k.UseInfo.Type)
	}
	children, err := parseKeypath(k.Children.Components)
	if err != nil {
		return KeyDescriptor{}, err
	}
	if len(k.KeyData) != 33 {
		return KeyDescriptor{}, fmt.Errorf("ur: crypto-hdkey key is %d bytes, expected 33", len(k.KeyData))
	}
	if len(k.ChainCode) != 32 {
		return KeyDescriptor{}, fmt.Errorf("ur: crypto-hdkey chain code is %d bytes, expected 32", len(k.ChainCode))
	}
	net, err := coinInfoNetwork(k.UseInfo.Network)
	if err != nil {
		return KeyDescriptor{}, err
	}
	comps, err := parseKeypath(k.Origin.Components)
	if err != nil {
		return KeyDescriptor{}, err
	}
	var devPath Path
	for _, d := range comps {
		if d.Type != ChildDerivation {
			return KeyDescriptor{}, fmt.Errorf("ur: wildcards or ranges not allowed in origin path")
		}
		idx := d.Index
		if d.Hardened {
			idx += hdkeychain.HardenedKeyStart
		}
		devPath = append(devPath, idx)
	}
	depth := k.Origin.Depth
	if depth != 0 && int(depth) != len(devPath) {
		return KeyDescriptor{}, fmt.Errorf("ur: origin depth is %d but expected %d", depth, len(devPath))
	}
	return KeyDescriptor{
		Network:           net,
		MasterFingerprint: k.Origin.Fingerprint,
		DerivationPath:    devPath,
		Children:          children,
		KeyData:           k.KeyData,
		ChainCode:         k.ChainCode,
		ParentFingerprint: k.ParentFingerprint,
	}, nil
}

func parseOutputDescriptor(mode cbor.DecMode, enc []byte) (OutputDescriptor, error) {
	var tagStack []uint64
	for {
		var raw cbor.RawTag
		if err := mode.Unmarshal(enc, &raw); err != nil {
			break
		}
		tagStack = append(tagStack, raw.Number)
		enc = raw.Content
	}
	if len(tagStack) == 0 {
		return OutputDescriptor{}, errors.New("ur: missing descriptor tag")
	}
	var desc OutputDescriptor
	script, consumed, ok := matchScriptTags(tagStack)
	if !ok {
		return OutputDescriptor{}, fmt.Errorf("ur: unknown script type tag: %d", tagStack[0])
	}
	desc.Script = script
	tagStack = tagStack[consumed:]
	if len(tagStack) == 0 {
		return OutputDescriptor{}, errors.New("ur: missing descriptor script tag")
	}
	funcNumber := tagStack[0]
	tagStack = tagStack[1:]
	if len(tagStack) > 0 {
		return OutputDescriptor{}, errors.New("ur: extra tags")
	}
	switch funcNumber {
	case tagHDKey: // singlesig
		desc.Type = Singlesig
		k, err := parseHDKey(enc)
		if err != nil {
			return OutputDescriptor{}, err
		}
		desc.Threshold = 1
		desc.Keys = append(desc.Keys, k)
	case tagMulti, tagSortedMulti:
		desc.Type = Multi
		if funcNumber == tagSortedMulti {
			desc.Type = SortedMulti
		}
		var m cborMultisig
		if err := mode.Unmarshal(enc, &m); err != nil {
			return OutputDescriptor{}, err
		}
		desc.Threshold = m.Threshold
		for _, k := range m.Keys {
			keyDesc, err := parseHDKey([]byte(k))
			if err != nil {
				return OutputDescriptor{}, err
			}
			desc.Keys = append(desc.Keys, keyDesc)
		}
	default:
		return desc, fmt.Errorf("ur: unknown script function tag: %d", funcNumber)
	}
	return desc, nil
}

func parseKeypath(comp []any) ([]Derivation, error) {
	if len(comp)%2 == 1 {
		return nil, errors.New("ur: odd number of path components")
	}
	var path []Derivation
	for i := 0; i < len(comp); i += 2 {
		deriv, err := parseDerivation(comp[i], comp[i+1])
		if err != nil {
			return nil, err
		}
		path = append(path, deriv)
	}
	return path, nil
}

func parseDerivation(idx, hardenedFlag any) (Derivation, error) {
	var deriv Derivation
	switch idx := idx.(type) {
	case uint64:
		if idx > math.MaxUint32 {
			return Derivation{}, errors.New("ur: child index out of range")
		}
		deriv = Derivation{Type: ChildDerivation, Index: uint32(idx)}
	case []any:
		switch len(idx) {
		case 0:
			deriv = Derivation{Type: WildcardDerivation}
		case 2:
			start, ok1 := idx[0].(uint64)
			end, ok2 := idx[1].(uint64)
			if !ok1 || !ok2 || start > math.MaxUint32 || end > math.MaxUint32 {
				return Derivation{}, errors.New("ur: invalid range derivation")
			}
			deriv = Derivation{Type: RangeDerivation, Index: uint32(start), End: uint32(end)}
		default:
			return Derivation{}, errors.New("ur: invalid wildcard derivation")
		}
	default:
		return Derivation{}, errors.New("ur: unknown path component type")
	}
	hardened, ok := hardenedFlag.(bool)
	if !ok {
		return Derivation{}, errors.New("ur: invalid hardened flag")
	}
	deriv.Hardened = hardened
	return deriv, nil
}
