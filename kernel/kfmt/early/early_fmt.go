// Package early provides a minimal, allocation-free formatted-printing
// implementation for use before the kernel's general-purpose allocator
// (the TBS arenas) is available. It writes to the COM1 serial port.
package early

import "github.com/RadianOS/radianos/kernel/serial"

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	padding         = byte(' ')
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	// out is the device early-formatting writes to. It is a package
	// variable rather than a parameter so call sites throughout the
	// kernel can stay as terse as fmt.Printf.
	out = serial.COM1Port
)

// Printf implements a subset of fmt.Printf that never allocates, since the
// Go itables and allocator have not necessarily been initialized at the
// point this is called from (early boot, panic path, interrupt handlers).
//
// Supported verbs:
//
//	%s  uninterpreted bytes of a string or []byte
//	%o  integer, base 8
//	%d  integer, base 10
//	%x  integer, base 16, lower-case
//	%t  "true" or "false"
//
// A decimal width may precede any verb (e.g. %16x); strings and base-10
// integers are left-padded with spaces, base-8/16 integers with zeroes.
//
// Printf intentionally does not support %p: that requires the reflect
// package, which triggers calls into runtime.convT2E / runtime.newobject —
// exactly the allocator this package exists to avoid depending on.
func Printf(format string, args ...interface{}) {
	var (
		nextCh                       byte
		nextArgIndex                 int
		blockStart, blockEnd, padLen int
		fmtLen                       = len(format)
	)

	for blockEnd < fmtLen {
		nextCh = format[blockEnd]
		if nextCh != '%' {
			blockEnd++
			continue
		}

		if blockStart < blockEnd {
			for i := blockStart; i < blockEnd; i++ {
				out.WriteByte(format[i])
			}
		}

		padLen = 0
		blockEnd++
	parseFmt:
		for ; blockEnd < fmtLen; blockEnd++ {
			nextCh = format[blockEnd]
			switch {
			case nextCh == '%':
				out.WriteByte('%')
				break parseFmt
			case nextCh >= '0' && nextCh <= '9':
				padLen = (padLen * 10) + int(nextCh-'0')
				continue
			case nextCh == 'd' || nextCh == 'x' || nextCh == 'o' || nextCh == 's' || nextCh == 't':
				if nextArgIndex >= len(args) {
					out.Write(errMissingArg)
					break parseFmt
				}

				switch nextCh {
				case 'o':
					fmtInt(args[nextArgIndex], 8, padLen)
				case 'd':
					fmtInt(args[nextArgIndex], 10, padLen)
				case 'x':
					fmtInt(args[nextArgIndex], 16, padLen)
				case 's':
					fmtString(args[nextArgIndex], padLen)
				case 't':
					fmtBool(args[nextArgIndex])
				}

				nextArgIndex++
				break parseFmt
			}

			out.Write(errNoVerb)
		}
		blockStart, blockEnd = blockEnd+1, blockEnd+1
	}

	if blockStart != blockEnd {
		for i := blockStart; i < blockEnd; i++ {
			out.WriteByte(format[i])
		}
	}

	for ; nextArgIndex < len(args); nextArgIndex++ {
		out.Write(errExtraArg)
	}
}

func fmtBool(v interface{}) {
	switch bVal := v.(type) {
	case bool:
		if bVal {
			out.Write(trueValue)
		} else {
			out.Write(falseValue)
		}
	default:
		out.Write(errWrongArgType)
	}
}

func fmtString(v interface{}, padLen int) {
	switch castedVal := v.(type) {
	case string:
		fmtRepeat(padding, padLen-len(castedVal))
		for i := 0; i < len(castedVal); i++ {
			out.WriteByte(castedVal[i])
		}
	case []byte:
		fmtRepeat(padding, padLen-len(castedVal))
		out.Write(castedVal)
	default:
		out.Write(errWrongArgType)
	}
}

func fmtRepeat(ch byte, count int) {
	for i := 0; i < count; i++ {
		out.WriteByte(ch)
	}
}

func fmtInt(v interface{}, base, padLen int) {
	var (
		sval             int64
		uval             uint64
		divider          uint64
		remainder        uint64
		buf              [20]byte
		padCh            byte
		left, right, end int
	)

	switch base {
	case 8:
		divider = 8
		padCh = '0'
	case 10:
		divider = 10
		padCh = ' '
	case 16:
		divider = 16
		padCh = '0'
	}

	switch t := v.(type) {
	case uint8:
		uval = uint64(t)
	case uint16:
		uval = uint64(t)
	case uint32:
		uval = uint64(t)
	case uint64:
		uval = t
	case uintptr:
		uval = uint64(t)
	case int8:
		sval = int64(t)
	case int16:
		sval = int64(t)
	case int32:
		sval = int64(t)
	case int64:
		sval = t
	case int:
		sval = int64(t)
	default:
		out.Write(errWrongArgType)
		return
	}

	if sval < 0 {
		uval = uint64(-sval)
	} else if sval > 0 {
		uval = uint64(sval)
	}

	for {
		remainder = uval % divider
		if remainder < 10 {
			buf[right] = byte(remainder) + '0'
		} else {
			buf[right] = byte(remainder-10) + 'a'
		}

		right++

		uval /= divider
		if uval == 0 {
			break
		}
	}

	for ; right-left < padLen; right++ {
		buf[right] = padCh
	}

	if base == 16 {
		buf[right] = 'x'
		buf[right+1] = '0'
		right += 2
	}

	if sval < 0 {
		for end = right - 1; buf[end] == ' '; end-- {
		}

		if end == right-1 {
			right++
		}

		buf[end+1] = '-'
	}

	end = right
	for right = right - 1; left < right; left, right = left+1, right-1 {
		buf[left], buf[right] = buf[right], buf[left]
	}

	out.Write(buf[0:end])
}
