// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package rsock

import (
	"github.com/pkg/errors"
)

// FrameSerializer encodes and decodes frames bit-exactly for one
// protocol version. The zero value is not usable; construct one with
// NewFrameSerializer or detect the version with DetectVersion.
type FrameSerializer struct {
	version ProtocolVersion
}

// NewFrameSerializer returns a serializer for the given protocol
// version, or ErrUnsupportedVersion if this package does not speak it.
func NewFrameSerializer(v ProtocolVersion) (*FrameSerializer, error) {
	if v != CurrentVersion {
		return nil, errors.WithStack(ErrUnsupportedVersion{Version: v})
	}
	return &FrameSerializer{version: v}, nil
}

// Version returns the protocol version the serializer speaks.
func (s *FrameSerializer) Version() ProtocolVersion {
	return s.version
}

// PeekHeader validates the buffer length and returns a header view
// without decoding the rest of the frame.
func PeekHeader(fd FrameData) (FrameHeader, error) {
	if len(fd) < FrameHeaderSize {
		return nil, errors.Wrap(ErrInvalidFrame{}, "short frame")
	}
	if fd[0]&0x80 != 0 {
		return nil, errors.Wrap(ErrInvalidFrame{}, "reserved stream id bit set")
	}
	return fd.Header(), nil
}

// DetectVersion probes the first frame of a connection for the protocol
// version. Only SETUP and RESUME frames declare a version; any other
// frame type fails detection.
func DetectVersion(fd FrameData) (v ProtocolVersion, err error) {
	var fh FrameHeader
	if fh, err = PeekHeader(fd); err != nil {
		return
	}
	switch fh.Type() {
	case FrameTypeSetup, FrameTypeResume:
		fp := NewFrameParser(fd)
		v.Major = fp.ReadUint16()
		v.Minor = fp.ReadUint16()
		if fp.Err() != nil {
			err = errors.Wrap(ErrInvalidFrame{}, "truncated version field")
		}
	default:
		err = errors.Wrapf(ErrInvalidFrame{}, "cannot detect version from %v", fh.Type())
	}
	return
}

// payloadFlags returns ff with the METADATA bit matching p.
func payloadFlags(ff FrameFlags, p Payload) FrameFlags {
	if p.HasMetadata() {
		return ff | FlagMetadata
	}
	return ff &^ FlagMetadata
}

// Encode serializes a frame into a pooled FrameData. The caller owns
// the returned buffer and must release it with FrameDataFree.
func (s *FrameSerializer) Encode(f Frame) (fd FrameData, err error) {
	fd = FrameDataAlloc()
	switch f := f.(type) {
	case *SetupFrame:
		err = s.encodeSetup(&fd, f)
	case *LeaseFrame:
		s.encodeLease(&fd, f)
	case *KeepaliveFrame:
		s.encodeKeepalive(&fd, f)
	case *RequestResponseFrame:
		fd.WriteHeader(FrameTypeRequestResponse, f.ID, payloadFlags(f.Flag, f.Payload))
		fd.WritePayload(f.Payload)
	case *RequestFNFFrame:
		fd.WriteHeader(FrameTypeRequestFNF, f.ID, payloadFlags(f.Flag, f.Payload))
		fd.WritePayload(f.Payload)
	case *RequestStreamFrame:
		fd.WriteHeader(FrameTypeRequestStream, f.ID, payloadFlags(f.Flag, f.Payload))
		fd.WriteUint32(f.InitialRequestN)
		fd.WritePayload(f.Payload)
	case *RequestChannelFrame:
		fd.WriteHeader(FrameTypeRequestChannel, f.ID, payloadFlags(f.Flag, f.Payload))
		fd.WriteUint32(f.InitialRequestN)
		fd.WritePayload(f.Payload)
	case *RequestNFrame:
		fd.WriteHeader(FrameTypeRequestN, f.ID, f.Flag)
		fd.WriteUint32(f.N)
	case *CancelFrame:
		fd.WriteHeader(FrameTypeCancel, f.ID, f.Flag)
	case *PayloadFrame:
		fd.WriteHeader(FrameTypePayload, f.ID, payloadFlags(f.Flag, f.Payload))
		fd.WritePayload(f.Payload)
	case *ErrorFrame:
		fd.WriteHeader(FrameTypeError, f.ID, f.Flag)
		fd.WriteUint32(uint32(f.Code))
		_, _ = fd.Write([]byte(f.Message))
	case *MetadataPushFrame:
		fd.WriteHeader(FrameTypeMetadataPush, 0, f.Flag|FlagMetadata)
		_, _ = fd.Write(f.Metadata)
	case *ResumeFrame:
		err = s.encodeResume(&fd, f)
	case *ResumeOKFrame:
		fd.WriteHeader(FrameTypeResumeOK, 0, f.Flag)
		fd.WriteInt64(f.Position)
	case *ExtFrame:
		fd.WriteHeader(FrameTypeExt, f.ID, payloadFlags(f.Flag, f.Payload))
		fd.WriteUint32(f.ExtendedType)
		fd.WritePayload(f.Payload)
	default:
		err = errors.Wrapf(ErrInvalidFrame{}, "cannot encode %T", f)
	}
	if err == nil && len(fd) > FrameMaxSize {
		err = errors.WithStack(errFrameTooBig{})
	}
	if err != nil {
		FrameDataFree(fd)
		fd = nil
	}
	return
}

func (s *FrameSerializer) encodeSetup(fd *FrameData, f *SetupFrame) (err error) {
	ff := payloadFlags(f.Flag, f.Payload)
	if f.Token != nil {
		ff |= FlagResumeEnable
	}
	fd.WriteHeader(FrameTypeSetup, 0, ff)
	fd.WriteUint16(f.Version.Major)
	fd.WriteUint16(f.Version.Minor)
	fd.WriteUint32(f.KeepaliveTime)
	fd.WriteUint32(f.MaxLifetime)
	if ff.Has(FlagResumeEnable) {
		if len(f.Token) > MaxResumeTokenSize {
			return errors.Wrap(ErrInvalidFrame{}, "resume token too long")
		}
		fd.WriteUint16(uint16(len(f.Token)))
		_, _ = fd.Write(f.Token)
	}
	if err = fd.WriteMimeType(f.MetadataMimeType); err == nil {
		if err = fd.WriteMimeType(f.DataMimeType); err == nil {
			fd.WritePayload(f.Payload)
		}
	}
	return
}

func (s *FrameSerializer) encodeLease(fd *FrameData, f *LeaseFrame) {
	ff := f.Flag &^ FlagMetadata
	if f.Metadata != nil {
		ff |= FlagMetadata
	}
	fd.WriteHeader(FrameTypeLease, 0, ff)
	fd.WriteUint32(f.TimeToLive)
	fd.WriteUint32(f.NumRequests)
	_, _ = fd.Write(f.Metadata)
}

func (s *FrameSerializer) encodeKeepalive(fd *FrameData, f *KeepaliveFrame) {
	fd.WriteHeader(FrameTypeKeepalive, 0, f.Flag)
	fd.WriteInt64(f.Position)
	_, _ = fd.Write(f.Data)
}

func (s *FrameSerializer) encodeResume(fd *FrameData, f *ResumeFrame) error {
	if len(f.Token) > MaxResumeTokenSize {
		return errors.Wrap(ErrInvalidFrame{}, "resume token too long")
	}
	fd.WriteHeader(FrameTypeResume, 0, f.Flag)
	fd.WriteUint16(f.Version.Major)
	fd.WriteUint16(f.Version.Minor)
	fd.WriteUint16(uint16(len(f.Token)))
	_, _ = fd.Write(f.Token)
	fd.WriteInt64(f.LastReceivedServerPosition)
	fd.WriteInt64(f.ClientPosition)
	return nil
}

// Decode deserializes a frame buffer into its typed variant. The
// returned frame copies all byte fields, so the buffer may be released
// immediately after.
func (s *FrameSerializer) Decode(fd FrameData) (f Frame, err error) {
	var fh FrameHeader
	if fh, err = PeekHeader(fd); err != nil {
		return
	}
	id := fh.StreamID()
	ff := fh.Flags()
	fp := NewFrameParser(fd)
	switch fh.Type() {
	case FrameTypeSetup:
		f, err = s.decodeSetup(fp, ff)
	case FrameTypeLease:
		lf := &LeaseFrame{Flag: ff, TimeToLive: fp.ReadUint32(), NumRequests: fp.ReadUint32()}
		if ff.Has(FlagMetadata) {
			lf.Metadata = fp.ReadRest()
		}
		f = lf
	case FrameTypeKeepalive:
		f = &KeepaliveFrame{Flag: ff, Position: fp.ReadInt64(), Data: fp.ReadRest()}
	case FrameTypeRequestResponse:
		f = &RequestResponseFrame{ID: id, Flag: ff, Payload: fp.ReadPayload(ff.Has(FlagMetadata))}
	case FrameTypeRequestFNF:
		f = &RequestFNFFrame{ID: id, Flag: ff, Payload: fp.ReadPayload(ff.Has(FlagMetadata))}
	case FrameTypeRequestStream:
		f = &RequestStreamFrame{ID: id, Flag: ff, InitialRequestN: fp.ReadUint32(), Payload: fp.ReadPayload(ff.Has(FlagMetadata))}
	case FrameTypeRequestChannel:
		f = &RequestChannelFrame{ID: id, Flag: ff, InitialRequestN: fp.ReadUint32(), Payload: fp.ReadPayload(ff.Has(FlagMetadata))}
	case FrameTypeRequestN:
		f = &RequestNFrame{ID: id, Flag: ff, N: fp.ReadUint32()}
	case FrameTypeCancel:
		f = &CancelFrame{ID: id, Flag: ff}
	case FrameTypePayload:
		f = &PayloadFrame{ID: id, Flag: ff, Payload: fp.ReadPayload(ff.Has(FlagMetadata))}
	case FrameTypeError:
		f = &ErrorFrame{ID: id, Flag: ff, Code: ErrorCode(fp.ReadUint32()), Message: string(fp.ReadRest())}
	case FrameTypeMetadataPush:
		f = &MetadataPushFrame{Flag: ff, Metadata: fp.ReadRest()}
	case FrameTypeResume:
		rf := &ResumeFrame{Flag: ff}
		rf.Version.Major = fp.ReadUint16()
		rf.Version.Minor = fp.ReadUint16()
		rf.Token = ResumeToken(fp.ReadBytes(int(fp.ReadUint16())))
		rf.LastReceivedServerPosition = fp.ReadInt64()
		rf.ClientPosition = fp.ReadInt64()
		f = rf
	case FrameTypeResumeOK:
		f = &ResumeOKFrame{Flag: ff, Position: fp.ReadInt64()}
	case FrameTypeExt:
		f = &ExtFrame{ID: id, Flag: ff, ExtendedType: fp.ReadUint32(), Payload: fp.ReadPayload(ff.Has(FlagMetadata))}
	default:
		err = errors.Wrapf(ErrInvalidFrame{}, "unknown frame type %v", fh.Type())
	}
	if err == nil {
		if perr := fp.Err(); perr != nil {
			f = nil
			err = errors.Wrapf(perr, "decoding %v", fh.Type())
		}
	}
	return
}

func (s *FrameSerializer) decodeSetup(fp *FrameParser, ff FrameFlags) (Frame, error) {
	sf := &SetupFrame{Flag: ff}
	sf.Version.Major = fp.ReadUint16()
	sf.Version.Minor = fp.ReadUint16()
	sf.KeepaliveTime = fp.ReadUint32()
	sf.MaxLifetime = fp.ReadUint32()
	if ff.Has(FlagResumeEnable) {
		sf.Token = ResumeToken(fp.ReadBytes(int(fp.ReadUint16())))
	}
	sf.MetadataMimeType = fp.ReadMimeType()
	sf.DataMimeType = fp.ReadMimeType()
	sf.Payload = fp.ReadPayload(ff.Has(FlagMetadata))
	return sf, nil
}
