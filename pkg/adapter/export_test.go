package adapter

var (
	WrapUpstream      = wrapUpstream
	IsPayloadTooLarge = isPayloadTooLarge
)
