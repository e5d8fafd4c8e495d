// Package h265transport compresses raw image frames to H.265 and
// serializes each emitted packet into a self-describing byte buffer a
// downstream consumer can reconstruct without any side channel.
//
// Key pieces include:
//   - Publisher: the per-frame pipeline (convert -> encode -> serialize -> publish)
//   - EncoderSession: one-time lazy configuration plus the feed/drain encode protocol
//   - Converter: packed RGB24 to I420 color space conversion
//   - Packet wire codec: the flat legacy layout plus a versioned envelope
//   - H265Packetizer/H265Depacketizer: RFC 7798 RTP payloading helpers
//
// # Architecture
//
//	Frame source -> Converter -> EncoderSession -> wire codec -> PublishFunc
//
// The encoder may hold frames internally for reordering (B-frames), so
// one published frame can surface zero or several wire messages, in the
// encoder's emission order. Call (*Publisher).Close to flush frames
// still buffered at shutdown.
//
// # Native Libraries
//
// The default backend loads libmedia_h265 (an x265 wrapper) at runtime
// via purego. Set MEDIA_H265_LIB_PATH or MEDIA_SDK_LIB_PATH when the
// library lives outside the standard search locations. Alternative
// backends register through RegisterEncoderBackend.
//
// # Build Tags
//
//   - noh265: disable the libmedia_h265 backend
package h265transport
