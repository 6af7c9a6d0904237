package dissect

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	smbHeaderLen  = 32
	smb2HeaderLen = 64
	nbssHeaderLen = 4

	smbFlagReply  = 0x80
	smb2FlagReply = 0x00000001
)

var (
	smbMagic  = []byte{0xFF, 'S', 'M', 'B'}
	smb2Magic = []byte{0xFE, 'S', 'M', 'B'}
)

// SMB_COM_* command codes (MS-CIFS 2.2.2.1).
var smbCommands = map[uint8]string{
	0x00: "SMB_COM_CREATE_DIRECTORY",
	0x01: "SMB_COM_DELETE_DIRECTORY",
	0x02: "SMB_COM_OPEN",
	0x03: "SMB_COM_CREATE",
	0x04: "SMB_COM_CLOSE",
	0x05: "SMB_COM_FLUSH",
	0x06: "SMB_COM_DELETE",
	0x07: "SMB_COM_RENAME",
	0x08: "SMB_COM_QUERY_INFORMATION",
	0x09: "SMB_COM_SET_INFORMATION",
	0x0A: "SMB_COM_READ",
	0x0B: "SMB_COM_WRITE",
	0x0C: "SMB_COM_LOCK_BYTE_RANGE",
	0x0D: "SMB_COM_UNLOCK_BYTE_RANGE",
	0x0E: "SMB_COM_CREATE_TEMPORARY",
	0x0F: "SMB_COM_CREATE_NEW",
	0x10: "SMB_COM_CHECK_DIRECTORY",
	0x11: "SMB_COM_PROCESS_EXIT",
	0x12: "SMB_COM_SEEK",
	0x13: "SMB_COM_LOCK_AND_READ",
	0x14: "SMB_COM_WRITE_AND_UNLOCK",
	0x1A: "SMB_COM_READ_RAW",
	0x1B: "SMB_COM_READ_MPX",
	0x1C: "SMB_COM_READ_MPX_SECONDARY",
	0x1D: "SMB_COM_WRITE_RAW",
	0x1E: "SMB_COM_WRITE_MPX",
	0x1F: "SMB_COM_WRITE_MPX_SECONDARY",
	0x20: "SMB_COM_WRITE_COMPLETE",
	0x21: "SMB_COM_QUERY_SERVER",
	0x22: "SMB_COM_SET_INFORMATION2",
	0x23: "SMB_COM_QUERY_INFORMATION2",
	0x24: "SMB_COM_LOCKING_ANDX",
	0x25: "SMB_COM_TRANSACTION",
	0x26: "SMB_COM_TRANSACTION_SECONDARY",
	0x27: "SMB_COM_IOCTL",
	0x28: "SMB_COM_IOCTL_SECONDARY",
	0x29: "SMB_COM_COPY",
	0x2A: "SMB_COM_MOVE",
	0x2B: "SMB_COM_ECHO",
	0x2C: "SMB_COM_WRITE_AND_CLOSE",
	0x2D: "SMB_COM_OPEN_ANDX",
	0x2E: "SMB_COM_READ_ANDX",
	0x2F: "SMB_COM_WRITE_ANDX",
	0x30: "SMB_COM_NEW_FILE_SIZE",
	0x31: "SMB_COM_CLOSE_AND_TREE_DISC",
	0x32: "SMB_COM_TRANSACTION2",
	0x33: "SMB_COM_TRANSACTION2_SECONDARY",
	0x34: "SMB_COM_FIND_CLOSE2",
	0x35: "SMB_COM_FIND_NOTIFY_CLOSE",
	0x70: "SMB_COM_TREE_CONNECT",
	0x71: "SMB_COM_TREE_DISCONNECT",
	0x72: "SMB_COM_NEGOTIATE",
	0x73: "SMB_COM_SESSION_SETUP_ANDX",
	0x74: "SMB_COM_LOGOFF_ANDX",
	0x75: "SMB_COM_TREE_CONNECT_ANDX",
	0x7E: "SMB_COM_SECURITY_PACKAGE_ANDX",
	0x80: "SMB_COM_QUERY_INFORMATION_DISK",
	0x81: "SMB_COM_SEARCH",
	0x82: "SMB_COM_FIND",
	0x83: "SMB_COM_FIND_UNIQUE",
	0x84: "SMB_COM_FIND_CLOSE",
	0xA0: "SMB_COM_NT_TRANSACT",
	0xA1: "SMB_COM_NT_TRANSACT_SECONDARY",
	0xA2: "SMB_COM_NT_CREATE_ANDX",
	0xA4: "SMB_COM_NT_CANCEL",
	0xA5: "SMB_COM_NT_RENAME",
	0xC0: "SMB_COM_OPEN_PRINT_FILE",
	0xC1: "SMB_COM_WRITE_PRINT_FILE",
	0xC2: "SMB_COM_CLOSE_PRINT_FILE",
	0xC3: "SMB_COM_GET_PRINT_QUEUE",
	0xD8: "SMB_COM_READ_BULK",
	0xD9: "SMB_COM_WRITE_BULK",
	0xDA: "SMB_COM_WRITE_BULK_DATA",
}

var smb2Commands = [...]string{
	"NEGOTIATE", "SESSION_SETUP", "LOGOFF", "TREE_CONNECT", "TREE_DISCONNECT",
	"CREATE", "CLOSE", "FLUSH", "READ", "WRITE", "LOCK", "IOCTL", "CANCEL",
	"ECHO", "QUERY_DIRECTORY", "CHANGE_NOTIFY", "QUERY_INFO", "SET_INFO",
	"OPLOCK_BREAK",
}

// smbHeader is the fixed 32-byte SMB1 header. Multi-byte fields are little-endian.
type smbHeader struct {
	Command   uint8
	Status    uint32
	Flags     uint8
	Flags2    uint16
	PIDHigh   uint16
	Signature [8]byte
	TID       uint16
	PIDLow    uint16
	UID       uint16
	MID       uint16
}

func parseSMBHeader(p []byte) (smbHeader, bool) {
	if len(p) < smbHeaderLen || !bytes.Equal(p[:4], smbMagic) {
		return smbHeader{}, false
	}
	h := smbHeader{
		Command: p[4],
		Status:  binary.LittleEndian.Uint32(p[5:9]),
		Flags:   p[9],
		Flags2:  binary.LittleEndian.Uint16(p[10:12]),
		PIDHigh: binary.LittleEndian.Uint16(p[12:14]),
		TID:     binary.LittleEndian.Uint16(p[24:26]),
		PIDLow:  binary.LittleEndian.Uint16(p[26:28]),
		UID:     binary.LittleEndian.Uint16(p[28:30]),
		MID:     binary.LittleEndian.Uint16(p[30:32]),
	}
	copy(h.Signature[:], p[14:22])
	return h, true
}

// dissectSMB accepts SMB1 and SMB2 headers, bare or behind the 4-byte
// NetBIOS session header used on port 445.
func dissectSMB(p []byte) (string, string, bool) {
	if len(p) >= nbssHeaderLen+4 && p[0] == 0x00 &&
		(bytes.Equal(p[4:8], smbMagic) || bytes.Equal(p[4:8], smb2Magic)) {
		p = p[nbssHeaderLen:]
	}

	if h, ok := parseSMBHeader(p); ok {
		name, ok := smbCommands[h.Command]
		if !ok {
			name = fmt.Sprintf("Unknown SMB command: 0x%02X", h.Command)
		}
		dir := "request"
		if h.Flags&smbFlagReply != 0 {
			dir = "response"
		}
		pid := uint32(h.PIDHigh)<<16 | uint32(h.PIDLow)
		return ProtoSMB, fmt.Sprintf("SMB %s %s, status 0x%08x, tid %d, pid %d, uid %d, mid %d",
			name, dir, h.Status, h.TID, pid, h.UID, h.MID), true
	}

	if len(p) >= smb2HeaderLen && bytes.Equal(p[:4], smb2Magic) &&
		binary.LittleEndian.Uint16(p[4:6]) == smb2HeaderLen {
		cmd := binary.LittleEndian.Uint16(p[12:14])
		name := fmt.Sprintf("command 0x%04x", cmd)
		if int(cmd) < len(smb2Commands) {
			name = smb2Commands[cmd]
		}
		dir := "request"
		if binary.LittleEndian.Uint32(p[16:20])&smb2FlagReply != 0 {
			dir = "response"
		}
		return ProtoSMB2, fmt.Sprintf("SMB2 %s %s, status 0x%08x, mid %d",
			name, dir, binary.LittleEndian.Uint32(p[8:12]), binary.LittleEndian.Uint64(p[24:32])), true
	}
	return "", "", false
}
