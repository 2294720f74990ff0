package featureflag

type Flag string

const (
	// FlagDisableNodeCache turns the inactive node cache off so every node
	// activation is treated as a cache miss and reloaded.
	FlagDisableNodeCache Flag = "DISABLE_NODE_CACHE"

	// FlagDisablePrefetch turns neighbor tile prewarming off.
	FlagDisablePrefetch Flag = "DISABLE_PREFETCH"

	// FlagDisableFrameLog turns the frame command journal off.
	FlagDisableFrameLog Flag = "DISABLE_FRAME_LOG"
)
