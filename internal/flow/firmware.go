package flow

import (
	"time"

	"keepkeyd/internal/wire"
)

// UploadChunkBytes is upload_chunk_bytes' default per spec section 6.
const UploadChunkBytes = 1024

// DisconnectGrace is the mid-upload reconnect grace of spec section 4.5:
// the device reboots mid-upload in some variants, and that is expected
// once.
const DisconnectGrace = 15 * time.Second

// FirmwareProgress is the payload of UpdateProgress events emitted during
// UploadChunks.
type FirmwareProgress struct {
	Phase      string
	BytesDone  int
	BytesTotal int
}

// Reopener lets the flow ask the worker to perform the grace-window
// rebind a mid-upload disconnect requires, since the flow itself has no
// access to the device descriptor or Opener.
type Reopener interface {
	ReopenAfterDisconnect(grace time.Duration) (Driver, error)
}

// FirmwareUploadFlow drives VerifyMode -> EraseOrInitialize -> UploadChunks
// -> VerifyHash, per spec section 4.5.
type FirmwareUploadFlow struct {
	Payload     []byte
	HashSig     []byte
	ChunkBytes  int
	OpTimeout   time.Duration
	BootloaderModeConfirmed func() bool // checked during VerifyMode; retried once per spec section 9
	Reopen      Reopener
}

func (f *FirmwareUploadFlow) Name() string { return "firmware_upload" }

func (f *FirmwareUploadFlow) chunkSize() int {
	if f.ChunkBytes > 0 {
		return f.ChunkBytes
	}
	return UploadChunkBytes
}

func (f *FirmwareUploadFlow) Run(d Driver, continuations <-chan Continuation) Outcome {
	// VerifyMode: spec section 9's open question — retry once on ambiguity
	// before declaring the device unsuitable for upload.
	if f.BootloaderModeConfirmed != nil {
		ok := f.BootloaderModeConfirmed()
		if !ok {
			ok = f.BootloaderModeConfirmed()
		}
		if !ok {
			return Outcome{Err: NewProtocolError(Failure, "device must be in bootloader mode")}
		}
	}

	// EraseOrInitialize.
	if err := d.Send(&wire.FirmwareErase{Length: uint32(len(f.Payload))}); err != nil {
		return Outcome{Err: err}
	}
	if reply, err := d.Recv(time.Now().Add(f.OpTimeout)); err != nil {
		return Outcome{Err: err}
	} else if fail, ok := reply.(*wire.Failure); ok {
		return Outcome{Err: NewProtocolError(Failure, fail.Message)}
	}

	// UploadChunks.
	total := len(f.Payload)
	done := 0
	chunkSize := f.chunkSize()
	reconnected := false

	for done < total {
		end := done + chunkSize
		if end > total {
			end = total
		}
		chunk := f.Payload[done:end]

		sendErr := d.Send(&wire.FirmwareUpload{Payload: chunk, HashSig: f.HashSig})
		if sendErr != nil {
			if reconnected {
				return Outcome{Err: sendErr}
			}
			reconnected = true
			driver, reopenErr := f.attemptReconnect(sendErr)
			if reopenErr != nil {
				return Outcome{Err: reopenErr}
			}
			d = driver
			continue
		}

		reply, recvErr := d.Recv(time.Now().Add(f.OpTimeout))
		if recvErr != nil {
			if reconnected {
				return Outcome{Err: recvErr}
			}
			reconnected = true
			driver, reopenErr := f.attemptReconnect(recvErr)
			if reopenErr != nil {
				return Outcome{Err: reopenErr}
			}
			d = driver
			continue
		}
		if fail, ok := reply.(*wire.Failure); ok {
			return Outcome{Err: NewProtocolError(Failure, fail.Message)}
		}

		done = end
		d.Emit(EventUpdateProgress, FirmwareProgress{Phase: "upload", BytesDone: done, BytesTotal: total})
	}

	// VerifyHash.
	final, err := d.Recv(time.Now().Add(f.OpTimeout))
	if err != nil {
		return Outcome{Err: err}
	}
	switch m := final.(type) {
	case *wire.Failure:
		return Outcome{Err: NewProtocolError(Failure, m.Message)}
	default:
		d.Emit(EventUpdateProgress, FirmwareProgress{Phase: "verify", BytesDone: total, BytesTotal: total})
		return Outcome{Result: m}
	}
}

func (f *FirmwareUploadFlow) attemptReconnect(cause error) (Driver, error) {
	if f.Reopen == nil {
		return nil, cause
	}
	driver, err := f.Reopen.ReopenAfterDisconnect(DisconnectGrace)
	if err != nil {
		return nil, cause
	}
	return driver, nil
}
