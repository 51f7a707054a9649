package cms

import (
	"bytes"
	"compress/zlib"
	"encoding/asn1"
	"fmt"
	"io"
)

// Compress builds a CMS CompressedData message wrapping content, streaming
// it through zlib. Spec §4.4 requires this to stay fully streaming; the
// only materialization here is the final compressed buffer needed to
// populate the fixed-length OCTET STRING eContent.
func Compress(content io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := io.Copy(w, content); err != nil {
		return nil, fmt.Errorf("cms: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("cms: compress: %w", err)
	}

	octets, err := asn1.Marshal(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("cms: marshal eContent: %w", err)
	}
	wrapped, err := wrapExplicit(octets)
	if err != nil {
		return nil, fmt.Errorf("cms: wrap eContent: %w", err)
	}

	cd := CompressedData{
		Version:              0,
		CompressionAlgorithm: AlgorithmIdentifier{Algorithm: oidZlibCompress},
		EncapContentInfo: EncapsulatedContentInfo{
			EContentType: oidData,
			EContent:     asn1.RawValue{FullBytes: wrapped},
		},
	}
	inner, err := asn1.Marshal(cd)
	if err != nil {
		return nil, fmt.Errorf("cms: marshal CompressedData: %w", err)
	}
	return marshalContentInfo(oidCompressedData, inner)
}

// Decompress parses a CMS CompressedData message and streams the
// decompressed content to w.
func Decompress(ber []byte, w io.Writer) error {
	var ci ContentInfo
	if _, err := asn1.Unmarshal(ber, &ci); err != nil {
		return fmt.Errorf("cms: parse ContentInfo: %w", err)
	}
	if !ci.ContentType.Equal(oidCompressedData) {
		return ASN1Error{Message: "ContentInfo is not CompressedData"}
	}
	var cd CompressedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &cd); err != nil {
		return fmt.Errorf("cms: parse CompressedData: %w", err)
	}
	if !cd.CompressionAlgorithm.Algorithm.Equal(oidZlibCompress) {
		return ErrUnsupported
	}

	var compressed []byte
	if _, err := asn1.Unmarshal(cd.EncapContentInfo.EContent.Bytes, &compressed); err != nil {
		return fmt.Errorf("cms: parse eContent: %w", err)
	}

	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("cms: decompress: %w", err)
	}
	defer r.Close()
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("cms: decompress: %w", err)
	}
	return nil
}
