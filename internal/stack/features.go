package stack

import "github.com/dargo-project/dargo/internal/direrr"

// CipherAlgo enumerates the cipher layer's supported algorithms (spec §4.1).
type CipherAlgo string

const (
	CipherScrambling CipherAlgo = "scrambling"
	CipherBlowfish   CipherAlgo = "blowfish"
	CipherAES256     CipherAlgo = "aes256"
	CipherTwofish256 CipherAlgo = "twofish256"
	CipherSerpent256 CipherAlgo = "serpent256"
	CipherCamellia256 CipherAlgo = "camellia256"
)

// CompressorAlgo enumerates the compressor layer's supported algorithms
// (spec §4.1).
type CompressorAlgo string

const (
	CompressNone  CompressorAlgo = "none"
	CompressGzip  CompressorAlgo = "gzip"
	CompressBzip2 CompressorAlgo = "bzip2"
	CompressLZO   CompressorAlgo = "lzo"
	CompressXZ    CompressorAlgo = "xz"
	CompressZstd  CompressorAlgo = "zstd"
	CompressLZ4   CompressorAlgo = "lz4"
)

// compiledCiphers/compiledCompressors mirror the original engine's
// compile_time_features gate (see original_source/src/libdar/
// compile_time_features.hpp and SPEC_FULL.md "Open Questions"): algorithms
// with no cgo-free Go implementation available anywhere in this corpus are
// modeled as "not compiled in" rather than silently unsupported or faked.
var compiledCiphers = map[CipherAlgo]bool{
	CipherScrambling: true,
	CipherBlowfish:   true,
	CipherAES256:     true,
	CipherTwofish256: true,
	CipherSerpent256: false,
	CipherCamellia256: false,
}

var compiledCompressors = map[CompressorAlgo]bool{
	CompressNone:  true,
	CompressGzip:  true,
	CompressBzip2: false,
	CompressLZO:   false,
	CompressXZ:    false,
	CompressZstd:  true,
	CompressLZ4:   false,
}

// CheckCipherCompiled returns a Feature-kind error if algo is not available
// in this build.
func CheckCipherCompiled(algo CipherAlgo) error {
	if compiledCiphers[algo] {
		return nil
	}
	return direrr.Newf(direrr.Feature, "stack.CheckCipherCompiled", "cipher %q not compiled into this build", algo)
}

// CheckCompressorCompiled returns a Feature-kind error if algo is not
// available in this build.
func CheckCompressorCompiled(algo CompressorAlgo) error {
	if compiledCompressors[algo] {
		return nil
	}
	return direrr.Newf(direrr.Feature, "stack.CheckCompressorCompiled", "compressor %q not compiled into this build", algo)
}
