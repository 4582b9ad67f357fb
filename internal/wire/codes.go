package wire

// NNTP status codes (RFC 3977, RFC 4643, RFC 8054).
const (
	CodeHelpText      = 100
	CodeCapabilities  = 101
	CodeDate          = 111
	CodeReadyPosting  = 200
	CodeReadyNoPost   = 201
	CodeClosing       = 205
	CodeCompressOK    = 206
	CodeGroupSelected = 211
	CodeListFollows   = 215
	CodeArticle       = 220
	CodeHead          = 221
	CodeBody          = 222
	CodeStat          = 223
	CodeOverview      = 224
	CodeNewArticles   = 230
	CodeNewGroups     = 231
	CodeAuthAccepted  = 281
	CodeAuthContinue  = 381
	CodeSASLContinue  = 383

	CodeUnavailable        = 400
	CodeInternalFault      = 403
	CodeNoSuchGroup        = 411
	CodeNoGroupSelected    = 412
	CodeNoCurrentArticle   = 420
	CodeNoNextArticle      = 421
	CodeNoPrevArticle      = 422
	CodeNoSuchArticleNum   = 423
	CodeNoSuchMessageID    = 430
	CodeAuthRequired       = 480
	CodeAuthRejected       = 481
	CodeAuthOutOfSequence  = 482
	CodeEncryptionRequired = 483

	CodeUnknownCommand   = 500
	CodeSyntaxError      = 501
	CodePermissionDenied = 502
	CodeFeatureNotSupp   = 503
)

// HasBody reports whether a reply with this code is followed by a
// multi-line data block.  211 is excluded: it carries a body only as
// the reply to LISTGROUP, which callers handle explicitly.
func HasBody(code int) bool {
	switch code {
	case CodeHelpText, CodeCapabilities, CodeListFollows,
		CodeArticle, CodeHead, CodeBody, CodeOverview, CodeNewArticles, CodeNewGroups:
		return true
	}
	return false
}

// IsSuccess reports whether code is a 1xx, 2xx or 3xx reply.
func IsSuccess(code int) bool { return code >= 100 && code < 400 }

// IsError reports whether code is a 4xx or 5xx reply.
func IsError(code int) bool { return code >= 400 }
