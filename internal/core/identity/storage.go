package identity

import (
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// PEM 类型常量
const (
	pemTypeEd25519Seed = "ED25519 PRIVATE KEY"
	pemTypeX25519      = "X25519 PRIVATE KEY"

	pemHeaderNickname = "Nickname"
)

// Save 保存身份到 PEM 文件
//
// 使用原子写操作（临时文件 + rename）防止部分写入导致的文件损坏。
// 文件权限设置为 0600，仅所有者可读写。
func (i *Identity) Save(path string) error {
	data := pem.EncodeToMemory(&pem.Block{
		Type:    pemTypeEd25519Seed,
		Headers: map[string]string{pemHeaderNickname: i.nickname},
		Bytes:   i.signing.Seed(),
	})
	data = append(data, pem.EncodeToMemory(&pem.Block{
		Type:  pemTypeX25519,
		Bytes: i.enc,
	})...)
	return atomicWriteFile(path, data, 0o600)
}

// Load 从 PEM 文件加载身份
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var (
		seed, encSecret []byte
		nickname        string
	)
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case pemTypeEd25519Seed:
			seed = block.Bytes
			nickname = block.Headers[pemHeaderNickname]
		case pemTypeX25519:
			encSecret = block.Bytes
		}
	}
	if seed == nil || encSecret == nil {
		return nil, ErrInvalidPEM
	}
	return FromKeys(nickname, seed, encSecret)
}

// LoadOrCreate 加载身份文件，不存在时生成并保存
func LoadOrCreate(path, nickname string) (*Identity, bool, error) {
	id, err := Load(path)
	if err == nil {
		if nickname != "" {
			id.SetNickname(nickname)
		}
		return id, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("load identity %s: %w", path, err)
	}

	id, err = Generate(nickname)
	if err != nil {
		return nil, false, err
	}
	if err := id.Save(path); err != nil {
		return nil, false, fmt.Errorf("save identity %s: %w", path, err)
	}
	return id, true, nil
}

// atomicWriteFile 原子写文件
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".identity-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
