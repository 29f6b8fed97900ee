package pfifo

// PFIFO MMIO registers, as offsets into the 0x002000 block.
const (
	RegIntr             = 0x0100
	RegIntrEn           = 0x0140
	RegRAMHT            = 0x0210
	RegMode             = 0x0504 // one bit per channel, set for DMA mode
	RegCache1Push0      = 0x1200
	RegCache1Push1      = 0x1204
	RegCache1Status     = 0x1214
	RegCache1DMAPush    = 0x1220
	RegCache1DMAFetch   = 0x1224
	RegCache1DMAState   = 0x1228
	RegCache1DMAInst    = 0x122C
	RegCache1DMAPut     = 0x1240
	RegCache1DMAGet     = 0x1244
	RegCache1Ref        = 0x1248
	RegCache1DMASubr    = 0x124C
	RegCache1Pull0      = 0x1250
	RegCache1Engine     = 0x1280
	RegCache1DMADCount  = 0x12A0
	RegCache1GetJmp     = 0x12A4
	RegCache1RsvdShadow = 0x12A8
	RegCache1DataShadow = 0x12AC

	// RegisterSpace is the size of the PFIFO MMIO block.
	RegisterSpace = 0x2000
)

// USER block registers, relative to 0x800000 + channel*UserStride.
const (
	UserDMAPut = 0x40
	UserDMAGet = 0x44
	UserRef    = 0x48

	UserStride = 0x10000
)

// Interrupt bits in RegIntr and RegIntrEn.
const (
	IntrCacheError = 1 << 0
	IntrDMAPusher  = 1 << 12
)

// Register fields.
const (
	push0Access = 1 << 0

	push1ChIDMask = 0x0000001F
	push1ModeDMA  = 1 << 8

	statusLowMark = 1 << 4 // cache empty

	dmaPushAccess = 1 << 0
	dmaPushState  = 1 << 4 // pusher busy
	dmaPushStatus = 1 << 12

	dmaStateNonIncreasing = 1 << 0
	dmaStateMethodMask    = 0x00001FFC
	dmaStateSubchMask     = 0x0000E000
	dmaStateSubchShift    = 13
	dmaStateCountMask     = 0x1FFC0000
	dmaStateCountShift    = 18
	dmaStateErrorMask     = 0xE0000000
	dmaStateErrorShift    = 29

	dmaInstanceMask = 0x0000FFFF

	subroutineOffsetMask = 0x1FFFFFFC
	subroutineActive     = 1 << 0

	pull0Access = 1 << 0
)

// DMA_STATE error codes.
const (
	dmaErrorNone       = 0
	dmaErrorCall       = 1
	dmaErrorReturn     = 3
	dmaErrorReserved   = 4
	dmaErrorProtection = 6
)

// Method header and control word encodings.
const (
	oldJumpMask   = 0xE0000003
	oldJump       = 0x20000000
	oldJumpTarget = 0x1FFFFFFF

	commandMask = 0x00000003
	commandJump = 1
	commandCall = 2

	returnWord = 0x00020000

	headerMask          = 0xE0030003
	headerIncreasing    = 0x00000000
	headerNonIncreasing = 0x40000000

	headerMethodMask  = 0x00001FFF
	headerSubchShift  = 13
	headerSubchMask   = 0x7
	headerCountShift  = 18
	headerCountMask   = 0x7FF
	objectMethodFirst = 0x0180
	objectMethodLast  = 0x01FC
	engineMethodFirst = 0x0100
)
