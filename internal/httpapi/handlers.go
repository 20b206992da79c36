package httpapi

import (
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"keepkeyd/internal/flow"
	"keepkeyd/internal/queue"
	"keepkeyd/internal/worker"
)

// decodeFunc binds a request body into the payload shape an Op's flow
// expects (see worker/dispatch.go's flowFor). On failure it writes the 400
// response itself and returns (nil, false).
type decodeFunc func(c *gin.Context) (any, bool)

func decodeNone(c *gin.Context) (any, bool) { return nil, true }

type getAddressBody struct {
	Path []uint32 `json:"path" binding:"required"`
}

func decodeGetAddress(c *gin.Context) (any, bool) {
	var body getAddressBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return nil, false
	}
	return body.Path, true
}

type signTransactionBody struct {
	TransactionHex string `json:"transaction_hex" binding:"required"`
}

func decodeSignTransaction(c *gin.Context) (any, bool) {
	var body signTransactionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return nil, false
	}
	tx, err := hex.DecodeString(body.TransactionHex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction_hex"})
		return nil, false
	}
	return tx, true
}

type setLabelBody struct {
	Label string `json:"label" binding:"required"`
}

func decodeSetLabel(c *gin.Context) (any, bool) {
	var body setLabelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return nil, false
	}
	return body.Label, true
}

type initializeBody struct {
	Strength uint32 `json:"strength"`
}

func decodeInitialize(c *gin.Context) (any, bool) {
	var body initializeBody
	_ = c.ShouldBindJSON(&body) // strength 0 lets the device pick its default
	return body.Strength, true
}

type applyPolicyBody struct {
	Name string `json:"name" binding:"required"`
}

func decodeApplyPolicy(c *gin.Context) (any, bool) {
	var body applyPolicyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return nil, false
	}
	return body.Name, true
}

type getEntropyBody struct {
	Size uint32 `json:"size" binding:"required"`
}

func decodeGetEntropy(c *gin.Context) (any, bool) {
	var body getEntropyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return nil, false
	}
	return body.Size, true
}

type firmwarePayloadBody struct {
	PayloadBase64 string `json:"payload_base64" binding:"required"`
}

func decodeFirmwarePayload(c *gin.Context) (any, bool) {
	var body firmwarePayloadBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(body.PayloadBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload_base64"})
		return nil, false
	}
	return data, true
}

type continuationBody struct {
	Positions string `json:"positions"`
	Text      string `json:"text"`
}

func decodeContinuation(c *gin.Context) (any, bool) {
	var body continuationBody
	_ = c.ShouldBindJSON(&body) // an empty or missing body leaves the fields empty
	return map[string]string{"positions": body.Positions, "text": body.Text, "letters": body.Text}, true
}

// opHandler builds a gin.HandlerFunc that decodes the request body with
// decode, submits op to the Queue Manager for the path's device_id, waits
// for the result, and renders it as JSON.
func (s *Server) opHandler(op worker.Op, decode decodeFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.Param("device_id")
		payload, ok := decode(c)
		if !ok {
			return
		}

		timeout := s.requestTimeout(string(op))
		req := worker.NewRequest(uuid.NewString(), deviceID, op, payload, time.Now().Add(timeout), c.Request.Context().Done())

		if err := s.mgr.Submit(req); err != nil {
			writeSubmitError(c, err)
			return
		}

		res := req.Wait()
		if res.Err != nil {
			writeResultError(c, res.Err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": res.Value})
	}
}

func (s *Server) handleListDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": s.mgr.ListDevices()})
}

func (s *Server) handleDeviceSnapshot(c *gin.Context) {
	deviceID := c.Param("device_id")
	snap, ok := s.mgr.Snapshot(deviceID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no worker for device " + deviceID})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleShutdownDevice(c *gin.Context) {
	deviceID := c.Param("device_id")
	if err := s.mgr.Shutdown(deviceID); err != nil {
		writeSubmitError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "shutdown"})
}

func writeSubmitError(c *gin.Context, err error) {
	switch err.(type) {
	case *queue.ErrNoSuchDevice:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case *queue.ErrWorkerStopped:
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case *queue.ErrInboxFull:
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func writeResultError(c *gin.Context, err error) {
	switch e := err.(type) {
	case *worker.ErrBusyInFlow:
		c.JSON(http.StatusConflict, gin.H{"error": e.Error(), "active_flow": e.ActiveFlow})
	case *worker.ErrDisconnected:
		c.JSON(http.StatusGone, gin.H{"error": e.Error()})
	case *worker.ErrCancelled:
		c.JSON(http.StatusRequestTimeout, gin.H{"error": e.Error()})
	case *worker.StateError:
		c.JSON(http.StatusBadRequest, gin.H{"error": e.Error(), "code": e.Code.String()})
	case *flow.ProtocolError:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": e.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
