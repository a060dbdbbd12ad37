package license

import (
	"crypto/md5"
	"encoding/hex"
	"net"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"
)

const unknown = "未知"

// DeviceInfo 是上报给授权服务器的设备信息。
type DeviceInfo struct {
	IP              string `json:"ip"`
	Mac             string `json:"mac"`
	MachineCode     string `json:"machine_code"`
	Hostname        string `json:"hostname"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	Architecture    string `json:"architecture"`
}

// MachineCode 由 MAC 地址和主机名生成 16 位机器码。
func MachineCode(mac, hostname string) string {
	sum := md5.Sum([]byte(mac + "-" + hostname))
	return hex.EncodeToString(sum[:])[:16]
}

// CollectDeviceInfo 收集本机的设备信息，取不到的字段填“未知”。
func CollectDeviceInfo() *DeviceInfo {
	info := &DeviceInfo{
		IP:              unknown,
		Mac:             unknown,
		Hostname:        unknown,
		Platform:        platformName(runtime.GOOS),
		PlatformVersion: unknown,
		Architecture:    runtime.GOARCH,
	}
	if stat, err := host.Info(); err == nil {
		if stat.Hostname != "" {
			info.Hostname = stat.Hostname
		}
		if stat.OS != "" {
			info.Platform = platformName(stat.OS)
		}
		if stat.PlatformVersion != "" {
			info.PlatformVersion = stat.PlatformVersion
		}
		if stat.KernelArch != "" {
			info.Architecture = stat.KernelArch
		}
	}
	if ifaces, err := psnet.Interfaces(); err == nil {
		info.IP, info.Mac = pickAddresses(ifaces)
	}
	info.MachineCode = MachineCode(info.Mac, info.Hostname)
	return info
}

// platformName 把 GOOS 风格的系统名转换为 Windows、Linux、Darwin 这样的写法。
func platformName(goos string) string {
	if goos == "" {
		return unknown
	}
	return strings.ToUpper(goos[:1]) + goos[1:]
}

func hasFlag(iface psnet.InterfaceStat, flag string) bool {
	for _, f := range iface.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

func pickAddresses(ifaces []psnet.InterfaceStat) (ip, mac string) {
	ip, mac = unknown, unknown
	for _, iface := range ifaces {
		if hasFlag(iface, "loopback") {
			continue
		}
		if mac == unknown && iface.HardwareAddr != "" {
			mac = iface.HardwareAddr
		}
		if ip != unknown || !hasFlag(iface, "up") {
			continue
		}
		for _, addr := range iface.Addrs {
			parsed, _, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				parsed = net.ParseIP(addr.Addr)
			}
			if parsed != nil && !parsed.IsLoopback() && parsed.To4() != nil {
				ip = parsed.String()
				break
			}
		}
	}
	return ip, mac
}
