package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Provider string

const (
	ProviderThriveCart Provider = "thrivecart"
	ProviderTopup      Provider = "topup"
	ProviderFanbases   Provider = "fanbases"
	ProviderAPI        Provider = "api"
)

// Policy controls how a provider's endpoints report failures.
// SuppressErrorStatus answers processing failures with 200 so the provider
// does not redeliver; rejections of the request itself keep their status.
type Policy struct {
	SuppressErrorStatus bool
}

var Policies = map[Provider]Policy{
	ProviderThriveCart: {SuppressErrorStatus: true},
	ProviderTopup:      {SuppressErrorStatus: true},
	ProviderFanbases:   {SuppressErrorStatus: false},
	ProviderAPI:        {SuppressErrorStatus: false},
}

// suppressible are the statuses a SuppressErrorStatus policy rewrites to 200.
func suppressible(status int) bool {
	return status == http.StatusNotFound || status >= http.StatusInternalServerError
}

// StatusFor returns the HTTP status a provider's endpoint answers a
// processing failure with.
func StatusFor(p Provider, status int) int {
	if Policies[p].SuppressErrorStatus && suppressible(status) {
		return http.StatusOK
	}
	return status
}

// Success writes {success:true, ...fields}.
func Success(c *gin.Context, fields gin.H) {
	body := gin.H{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// Fail reports a processing failure with the status chosen by the provider
// policy. Suppressed failures also carry success:false.
func Fail(c *gin.Context, p Provider, status int, message string) {
	written := StatusFor(p, status)
	if written != status {
		c.JSON(written, gin.H{"success": false, "error": message})
		return
	}
	c.JSON(status, gin.H{"error": message})
}

// Reject refuses the request itself (bad secret, missing field, missing
// configuration). The status is never rewritten.
func Reject(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func ParamError(c *gin.Context, message string) {
	Reject(c, http.StatusBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	Reject(c, http.StatusUnauthorized, message)
}

func ServerError(c *gin.Context, p Provider, message string) {
	Fail(c, p, http.StatusInternalServerError, message)
}
