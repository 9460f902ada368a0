//go:build windows

package transport

import (
	"fmt"
	"io"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"

	httperrors "github.com/quillhttp/httpcore/errors"
)

// Minimal SSPI/Schannel surface, resolved lazily from secur32.dll and
// crypt32.dll — the native backend described in spec §4.2.a. Struct
// layouts mirror <sspi.h>/<schannel.h>; only the fields this backend
// touches are declared.

type secHandle struct {
	lower uintptr
	upper uintptr
}

type timeStamp struct {
	lowPart  uint32
	highPart int32
}

type secBuffer struct {
	cbBuffer   uint32
	bufferType uint32
	pvBuffer   uintptr
}

type secBufferDesc struct {
	ulVersion uint32
	cBuffers  uint32
	pBuffers  uintptr
}

type schannelCred struct {
	dwVersion              uint32
	cCreds                 uint32
	paCred                 uintptr
	hRootStore             uintptr
	cMappers               uint32
	aphMappers             uintptr
	cSupportedAlgs         uint32
	palgSupportedAlgs      uintptr
	grbitEnabledProtocols  uint32
	dwMinimumCipherStrengh uint32
	dwMaximumCipherStrengh uint32
	dwSessionLifespan      uint32
	dwFlags                uint32
	dwCredFormat           uint32
}

type secPkgContextStreamSizes struct {
	cbHeader         uint32
	cbTrailer        uint32
	cbMaximumMessage uint32
	cBuffers         uint32
	cbBlockSize      uint32
}

const (
	secbufferVersion = 0

	secbufferEmpty         = 0
	secbufferData          = 1
	secbufferToken         = 2
	secbufferExtra         = 5
	secbufferStreamTrailer = 6
	secbufferStreamHeader  = 7

	secpkgAttrStreamSizes = 4
	secpkgCredOutbound    = 2

	iscReqSequenceDetect       = 0x00000008
	iscReqConfidentiality      = 0x00000010
	iscReqAllocateMemory       = 0x00000100
	iscReqStream               = 0x00008000
	iscReqIntegrity            = 0x00010000
	iscReqManualCredValidation = 0x00080000

	schannelCredVersion        = 4
	schCredManualCredValidation = 0x00000008
	schUseStrongCrypto          = 0x00400000

	secEOK                = 0x00000000
	secIContinueNeeded    = 0x00090312
	secIContextExpired    = 0x00090317
	secEIncompleteMessage = 0x80090318
)

// handshakeReceiveCap matches the original's fixed 16KiB handshake
// receive buffer; one TLS record never exceeds that during a handshake.
const handshakeReceiveCap = 16384

const gateUninit int32 = 0
const gateInitializing int32 = 1
const gateReady int32 = 2
const gateFailed int32 = 3

var schannelGate atomic.Int32
var credHandle secHandle

var (
	secur32                       = windows.NewLazySystemDLL("secur32.dll")
	procAcquireCredentialsHandleA = secur32.NewProc("AcquireCredentialsHandleA")
	procFreeCredentialsHandle     = secur32.NewProc("FreeCredentialsHandle")
	procInitializeSecurityContextA = secur32.NewProc("InitializeSecurityContextA")
	procQueryContextAttributesA   = secur32.NewProc("QueryContextAttributesA")
	procEncryptMessage            = secur32.NewProc("EncryptMessage")
	procDecryptMessage            = secur32.NewProc("DecryptMessage")
	procDeleteSecurityContext     = secur32.NewProc("DeleteSecurityContext")
	procFreeContextBuffer         = secur32.NewProc("FreeContextBuffer")
)

func acquireCredentials() error {
	cred := schannelCred{
		dwVersion:             schannelCredVersion,
		grbitEnabledProtocols: 0, // let Schannel auto-negotiate the best available protocol
		dwFlags:               schCredManualCredValidation | schUseStrongCrypto,
	}

	unispName := []byte("Microsoft Unified Security Protocol Provider\x00")
	var ts timeStamp

	r1, _, _ := procAcquireCredentialsHandleA.Call(
		0,
		uintptr(unsafe.Pointer(&unispName[0])),
		secpkgCredOutbound,
		0,
		uintptr(unsafe.Pointer(&cred)),
		0,
		0,
		uintptr(unsafe.Pointer(&credHandle)),
		uintptr(unsafe.Pointer(&ts)),
	)
	if r1 != secEOK {
		return fmt.Errorf("AcquireCredentialsHandle failed: 0x%x", r1)
	}
	log.Debug().Msg("schannel: acquired credentials handle")
	return nil
}

// shutdownPlatformTLS releases the process-wide credentials handle
// acquired by acquireCredentials and resets the gate so a later call can
// re-acquire, per spec §5/§6.
func shutdownPlatformTLS() {
	if schannelGate.Load() != gateReady {
		schannelGate.Store(gateUninit)
		return
	}
	procFreeCredentialsHandle.Call(uintptr(unsafe.Pointer(&credHandle)))
	log.Debug().Msg("schannel: released credentials handle")
	credHandle = secHandle{}
	schannelGate.Store(gateUninit)
}

// platformTLSAvailable acquires the process-wide credentials handle
// exactly once, per the one-shot gate in spec §5.
func platformTLSAvailable() bool {
	for {
		switch schannelGate.Load() {
		case gateReady:
			return true
		case gateFailed:
			return false
		case gateUninit:
			if schannelGate.CompareAndSwap(gateUninit, gateInitializing) {
				if err := acquireCredentials(); err != nil {
					log.Warn().Err(err).Msg("schannel: credential acquisition failed")
					schannelGate.Store(gateFailed)
					return false
				}
				schannelGate.Store(gateReady)
				return true
			}
		default:
		}
	}
}

type schannelSession struct {
	ctx          secHandle
	rw           io.ReadWriter
	plainBuffer  []byte
	plainOffset  int
	cipherBuffer []byte
	cipherLen    int
}

func newPlatformTLSSession() (TLSSession, error) {
	if !platformTLSAvailable() {
		return nil, httperrors.NewTransportError(httperrors.KindTLSUnavailable, httperrors.TransportErrorTLSUnavailable, "SChannel credentials unavailable", nil)
	}
	return &schannelSession{}, nil
}

// Handshake runs the bounded InitializeSecurityContext loop described in
// spec §4.2.a, transmitting/receiving through rw rather than a raw
// socket so this backend works with any Transport.
func (s *schannelSession) Handshake(rw io.ReadWriter, hostname string) error {
	s.rw = rw
	hostnameBytes := append([]byte(hostname), 0)

	recvBuf := make([]byte, handshakeReceiveCap)
	recvLen := 0
	initial := true

	const contextReq = iscReqSequenceDetect | iscReqConfidentiality | iscReqIntegrity |
		iscReqStream | iscReqAllocateMemory | iscReqManualCredValidation

	for i := 0; i < 100; i++ {
		var outBuf secBuffer
		outBuf.bufferType = secbufferToken

		outDesc := secBufferDesc{ulVersion: secbufferVersion, cBuffers: 1, pBuffers: uintptr(unsafe.Pointer(&outBuf))}

		var inBuffers [2]secBuffer
		var inDescPtr uintptr
		if !initial {
			inBuffers[0] = secBuffer{bufferType: secbufferToken, cbBuffer: uint32(recvLen), pvBuffer: uintptr(unsafe.Pointer(&recvBuf[0]))}
			inBuffers[1] = secBuffer{bufferType: secbufferEmpty}
			inDescPtr = uintptr(unsafe.Pointer(&secBufferDesc{ulVersion: secbufferVersion, cBuffers: 2, pBuffers: uintptr(unsafe.Pointer(&inBuffers[0]))}))
		}

		var newCtx secHandle
		var ctxInPtr, ctxOutPtr uintptr
		if initial {
			ctxOutPtr = uintptr(unsafe.Pointer(&newCtx))
		} else {
			ctxInPtr = uintptr(unsafe.Pointer(&s.ctx))
		}

		var attrsOut uint32
		var ts timeStamp

		status, _, _ := procInitializeSecurityContextA.Call(
			uintptr(unsafe.Pointer(&credHandle)),
			ctxInPtr,
			uintptr(unsafe.Pointer(&hostnameBytes[0])),
			contextReq,
			0,
			0,
			inDescPtr,
			0,
			ctxOutPtr,
			uintptr(unsafe.Pointer(&outDesc)),
			uintptr(unsafe.Pointer(&attrsOut)),
			uintptr(unsafe.Pointer(&ts)),
		)

		if initial {
			s.ctx = newCtx
		}
		initial = false

		switch uint32(status) {
		case secEOK:
			if outBuf.cbBuffer > 0 && outBuf.pvBuffer != 0 {
				token := unsafe.Slice((*byte)(unsafe.Pointer(outBuf.pvBuffer)), outBuf.cbBuffer)
				if _, err := rw.Write(token); err != nil {
					procFreeContextBuffer.Call(outBuf.pvBuffer)
					return fmt.Errorf("failed to send final handshake token: %w", err)
				}
				procFreeContextBuffer.Call(outBuf.pvBuffer)
			}
			if inBuffers[1].bufferType == secbufferExtra && inBuffers[1].cbBuffer > 0 {
				extra := unsafe.Slice((*byte)(unsafe.Pointer(inBuffers[1].pvBuffer)), inBuffers[1].cbBuffer)
				s.cipherBuffer = append([]byte(nil), extra...)
				s.cipherLen = len(s.cipherBuffer)
			}
			return nil

		case secIContinueNeeded, secEIncompleteMessage:
			if uint32(status) == secEIncompleteMessage {
				// SChannel consumed nothing — keep what we have and
				// append more bytes to the same buffer.
				if recvLen >= len(recvBuf) {
					recvBuf = append(recvBuf, make([]byte, len(recvBuf))...)
				}
				n, err := rw.Read(recvBuf[recvLen:])
				if err != nil || n <= 0 {
					return fmt.Errorf("failed to receive handshake response: %w", err)
				}
				recvLen += n
				continue
			}

			if outBuf.cbBuffer > 0 && outBuf.pvBuffer != 0 {
				token := unsafe.Slice((*byte)(unsafe.Pointer(outBuf.pvBuffer)), outBuf.cbBuffer)
				if _, err := rw.Write(token); err != nil {
					procFreeContextBuffer.Call(outBuf.pvBuffer)
					return fmt.Errorf("failed to send handshake token: %w", err)
				}
				procFreeContextBuffer.Call(outBuf.pvBuffer)
			}

			extraLen := 0
			for _, b := range inBuffers {
				if b.bufferType == secbufferExtra && b.cbBuffer > 0 {
					extraLen = int(b.cbBuffer)
					copy(recvBuf, recvBuf[recvLen-extraLen:recvLen])
					break
				}
			}

			if extraLen > 0 {
				recvLen = extraLen
			} else {
				n, err := rw.Read(recvBuf)
				if err != nil || n <= 0 {
					return fmt.Errorf("failed to receive handshake response: %w", err)
				}
				recvLen = n
			}

		default:
			return fmt.Errorf("TLS handshake failed: 0x%x", uint32(status))
		}
	}

	return fmt.Errorf("TLS handshake timeout (too many iterations)")
}

func (s *schannelSession) streamSizes() (header, trailer int, err error) {
	var sizes secPkgContextStreamSizes
	r1, _, _ := procQueryContextAttributesA.Call(
		uintptr(unsafe.Pointer(&s.ctx)),
		secpkgAttrStreamSizes,
		uintptr(unsafe.Pointer(&sizes)),
	)
	if uint32(r1) != secEOK {
		return 0, 0, fmt.Errorf("QueryContextAttributes(STREAM_SIZES) failed: 0x%x", r1)
	}
	return int(sizes.cbHeader), int(sizes.cbTrailer), nil
}

// Send encrypts one TLS record containing plaintext and transmits it in
// one shot, following spec §4.2.a's send algorithm: query the negotiated
// stream sizes, build header|data|trailer in one allocation, encrypt in
// place, then write the whole record atomically.
func (s *schannelSession) Send(plaintext []byte) (int, error) {
	header, trailer, err := s.streamSizes()
	if err != nil {
		return -1, err
	}

	total := header + len(plaintext) + trailer
	buf := make([]byte, total)
	copy(buf[header:header+len(plaintext)], plaintext)

	buffers := [4]secBuffer{
		{bufferType: secbufferStreamHeader, cbBuffer: uint32(header), pvBuffer: uintptr(unsafe.Pointer(&buf[0]))},
		{bufferType: secbufferData, cbBuffer: uint32(len(plaintext)), pvBuffer: uintptr(unsafe.Pointer(&buf[header]))},
		{bufferType: secbufferStreamTrailer, cbBuffer: uint32(trailer), pvBuffer: uintptr(unsafe.Pointer(&buf[header+len(plaintext)]))},
		{bufferType: secbufferEmpty},
	}
	desc := secBufferDesc{ulVersion: secbufferVersion, cBuffers: 4, pBuffers: uintptr(unsafe.Pointer(&buffers[0]))}

	status, _, _ := procEncryptMessage.Call(uintptr(unsafe.Pointer(&s.ctx)), 0, uintptr(unsafe.Pointer(&desc)), 0)
	if uint32(status) != secEOK {
		return -1, fmt.Errorf("EncryptMessage failed: 0x%x", status)
	}

	if _, err := s.rw.Write(buf); err != nil {
		return -1, err
	}
	return len(plaintext), nil
}

// Recv implements spec §4.2.a's four-case receive algorithm: drain
// spill, read when empty, decrypt in place, and retry on
// INCOMPLETE_MESSAGE by growing the buffer and reading more.
func (s *schannelSession) Recv(buf []byte) (int, error) {
	if len(s.plainBuffer) > 0 && s.plainOffset < len(s.plainBuffer) {
		n := copy(buf, s.plainBuffer[s.plainOffset:])
		s.plainOffset += n
		if s.plainOffset >= len(s.plainBuffer) {
			s.plainBuffer = nil
			s.plainOffset = 0
		}
		return n, nil
	}

	if s.cipherBuffer == nil {
		s.cipherBuffer = make([]byte, handshakeReceiveCap)
		s.cipherLen = 0
	}

	for {
		if s.cipherLen == 0 {
			n, err := s.rw.Read(s.cipherBuffer)
			if err != nil || n <= 0 {
				return n, err
			}
			s.cipherLen = n
		}

		var buffers [4]secBuffer
		buffers[0] = secBuffer{bufferType: secbufferData, cbBuffer: uint32(s.cipherLen), pvBuffer: uintptr(unsafe.Pointer(&s.cipherBuffer[0]))}
		buffers[1] = secBuffer{bufferType: secbufferEmpty}
		buffers[2] = secBuffer{bufferType: secbufferEmpty}
		buffers[3] = secBuffer{bufferType: secbufferEmpty}
		desc := secBufferDesc{ulVersion: secbufferVersion, cBuffers: 4, pBuffers: uintptr(unsafe.Pointer(&buffers[0]))}

		status, _, _ := procDecryptMessage.Call(uintptr(unsafe.Pointer(&s.ctx)), uintptr(unsafe.Pointer(&desc)), 0, 0)

		switch uint32(status) {
		case secEOK:
			var dataBuf *secBuffer
			for i := range buffers {
				if buffers[i].bufferType == secbufferData && buffers[i].cbBuffer > 0 {
					dataBuf = &buffers[i]
					break
				}
			}
			if dataBuf == nil {
				s.cipherLen = s.preserveExtra(buffers[:])
				continue
			}

			plain := unsafe.Slice((*byte)(unsafe.Pointer(dataBuf.pvBuffer)), dataBuf.cbBuffer)
			toCopy := copy(buf, plain) // copy BEFORE any memmove of the same backing buffer
			if toCopy < len(plain) {
				s.plainBuffer = append([]byte(nil), plain[toCopy:]...)
				s.plainOffset = 0
			}

			s.cipherLen = s.preserveExtra(buffers[:])
			return toCopy, nil

		case secEIncompleteMessage:
			if s.cipherLen >= len(s.cipherBuffer) {
				grown := make([]byte, len(s.cipherBuffer)*2)
				copy(grown, s.cipherBuffer[:s.cipherLen])
				s.cipherBuffer = grown
			}
			n, err := s.rw.Read(s.cipherBuffer[s.cipherLen:])
			if err != nil || n <= 0 {
				return n, err
			}
			s.cipherLen += n

		case secIContextExpired:
			s.cipherLen = 0
			return 0, nil

		default:
			return -1, fmt.Errorf("DecryptMessage failed: 0x%x", status)
		}
	}
}

// preserveExtra relocates any SECBUFFER_EXTRA segment to the front of
// the cipher buffer (memmove-equivalent) and returns its length, or 0
// when there was none.
func (s *schannelSession) preserveExtra(buffers []secBuffer) int {
	for _, b := range buffers {
		if b.bufferType == secbufferExtra && b.cbBuffer > 0 {
			extra := int(b.cbBuffer)
			copy(s.cipherBuffer, s.cipherBuffer[s.cipherLen-extra:s.cipherLen])
			return extra
		}
	}
	return 0
}

func (s *schannelSession) Close() error {
	procDeleteSecurityContext.Call(uintptr(unsafe.Pointer(&s.ctx)))
	return nil
}
