package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	sensordatadomain "github.com/smallbiznis/greenhouse/internal/sensordata/domain"
)

const maxBodyBytes = 1 << 20

type sensorDataResponse struct {
	Data sensordatadomain.SensorData `json:"data"`
}

func (s *Server) AddSensorData(c *gin.Context) {
	payload, ok := bindPayload(c)
	if !ok {
		return
	}

	created, err := s.sensorDataSvc.Create(c.Request.Context(), payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sensorDataResponse{Data: created})
}

func (s *Server) GetSensorData(c *gin.Context) {
	id, err := parseSensorDataID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	data, err := s.sensorDataSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sensorDataResponse{Data: data})
}

func (s *Server) UpdateSensorData(c *gin.Context) {
	id, err := parseSensorDataID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	payload, ok := bindPayload(c)
	if !ok {
		return
	}

	updated, err := s.sensorDataSvc.Update(c.Request.Context(), id, payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sensorDataResponse{Data: updated})
}

func (s *Server) DeleteSensorData(c *gin.Context) {
	id, err := parseSensorDataID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	removed, err := s.sensorDataSvc.Delete(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sensorDataResponse{Data: removed})
}

func bindPayload(c *gin.Context) (sensordatadomain.Payload, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var req sensordatadomain.PayloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, ErrPayloadTooLarge)
			return sensordatadomain.Payload{}, false
		}
		var fieldErrs validator.ValidationErrors
		if field := req.MissingField(); errors.As(err, &fieldErrs) && field != "" {
			AbortWithError(c, invalidRequestError(field, field+" is required"))
			return sensordatadomain.Payload{}, false
		}
		AbortWithError(c, invalidRequestError("body", "request body must be a JSON sensor data payload"))
		return sensordatadomain.Payload{}, false
	}
	return req.Payload(), true
}
