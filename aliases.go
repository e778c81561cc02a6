package cachify

import (
	"github.com/nasriyasoftware/cachify/cerrors"
	"github.com/nasriyasoftware/cachify/kv"
	"github.com/nasriyasoftware/cachify/model"
)

// Flavor, Reason, TTL and friends are defined in package model so that the
// flavor/session/backup subpackages can share them without importing this
// root package (which in turn imports them). They are aliased here purely
// for a friendlier public API: cachify.Flavor reads the same as
// cachify.Cache.
type (
	Flavor    = model.Flavor
	Reason    = model.Reason
	TTLPolicy = model.TTLPolicy
	TTL       = model.TTL
	Dates     = model.Dates
	Counts    = model.Counts
	Stats     = model.Stats

	// SetOptions is kv.SetOptions, aliased for a friendlier cachify.Cache
	// call site (cache.KV.Set(..., cachify.SetOptions{...})).
	SetOptions = kv.SetOptions
)

const (
	FlavorKV    = model.FlavorKV
	FlavorFiles = model.FlavorFiles
	DefaultScope = model.DefaultScope

	ReasonManual           = model.ReasonManual
	ReasonClear            = model.ReasonClear
	ReasonExpire           = model.ReasonExpire
	ReasonLRU              = model.ReasonLRU
	ReasonFIFO             = model.ReasonFIFO
	ReasonLFU              = model.ReasonLFU
	ReasonIdle             = model.ReasonIdle
	ReasonMemoryLimit      = model.ReasonMemoryLimit
	ReasonFileDelete       = model.ReasonFileDelete
	ReasonFileRename       = model.ReasonFileRename
	ReasonFileExceedsLimit = model.ReasonFileExceedsLimit

	TTLPolicyEvict   = model.TTLPolicyEvict
	TTLPolicyKeep    = model.TTLPolicyKeep
	TTLPolicyRefresh = model.TTLPolicyRefresh
)

// CacheError and the session/engine/stream error sentinels are defined in
// package cerrors for the same cycle-avoidance reason.
type CacheError = cerrors.CacheError

var (
	ErrSessionTimeout           = cerrors.ErrSessionTimeout
	ErrSessionAlreadyReleased   = cerrors.ErrSessionAlreadyReleased
	ErrSessionRecordNotFound    = cerrors.ErrSessionRecordNotFound
	ErrSessionRecordNotAcquired = cerrors.ErrSessionRecordNotAcquired
	ErrSessionRecordIsExclusive = cerrors.ErrSessionRecordIsExclusive

	ErrValidation = cerrors.ErrValidation

	ErrEngineSetFailed    = cerrors.ErrEngineSetFailed
	ErrEngineRemoveFailed = cerrors.ErrEngineRemoveFailed
	ErrEngineReadFailed   = cerrors.ErrEngineReadFailed
	ErrUnknownEngine      = cerrors.ErrUnknownEngine

	ErrStreamTornDown    = cerrors.ErrStreamTornDown
	ErrUnsupportedFlavor = cerrors.ErrUnsupportedFlavor
	ErrUnknownDriver     = cerrors.ErrUnknownDriver

	ErrInvariantViolation = cerrors.ErrInvariantViolation
)
