package agents

import "testing"

func TestInfoValue(t *testing.T) {
	info := "# Memory\r\nused_memory:1048576\r\nused_memory_human:1.00M\r\nmaxmemory:0\r\n"

	used, ok := infoValue(info, "used_memory")
	if !ok || used != 1048576 {
		t.Errorf("used_memory = %d/%v, want 1048576/true", used, ok)
	}
	max, ok := infoValue(info, "maxmemory")
	if !ok || max != 0 {
		t.Errorf("maxmemory = %d/%v, want 0/true", max, ok)
	}
	if _, ok := infoValue(info, "mem_fragmentation_ratio"); ok {
		t.Error("absent field reported as present")
	}
}

func TestInfoValueDoesNotMatchPrefix(t *testing.T) {
	// used_memory must not match used_memory_human's line.
	info := "used_memory_human:1.00M\nused_memory:42\n"
	v, ok := infoValue(info, "used_memory")
	if !ok || v != 42 {
		t.Errorf("used_memory = %d/%v, want 42/true", v, ok)
	}
}
