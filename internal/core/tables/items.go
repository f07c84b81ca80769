package tables

import "github.com/JonMunkholm/itemstage/internal/core"

// ItemsV1 is the item master sheet layout: columns A-T and AO-BX.
// Columns U-AN (dimensions and weights) are not imported.
const ItemsV1 = "items-v1"

func init() {
	core.Register(itemsV1())
}

func itemsV1() core.ColumnMap {
	text := func(i int, field, header string) core.Column {
		return core.Column{Index: i, Field: field, Header: header, Type: core.FieldText}
	}
	num := func(i int, field, header string) core.Column {
		return core.Column{Index: i, Field: field, Header: header, Type: core.FieldNumeric}
	}

	key := text(1, "item", "Item#")
	key.Required = true

	return core.ColumnMap{
		Version:    ItemsV1,
		NaturalKey: "item",
		Columns: []core.Column{
			text(0, "brand_name", "Brand Name"),
			key,
			text(2, "description1", "Description1"),
			text(3, "description2", "Description2"),
			text(4, "description3", "Description3"),
			text(5, "uom_units_inner_2", "Inner - 2 (UOM)"),
			text(6, "uom_pack_inner_1", "Inner - 1 (UOM)"),
			text(7, "uom_sellable", "Sellable (UOM)"),
			text(8, "uom_ship_1", "Ship + 1 (UOM)"),
			text(9, "uom_ship_2", "Ship + 2 (UOM)"),
			num(10, "upc_inner_2", "Inner - 2 (UPC)"),
			num(11, "upc_inner_1", "Inner - 1 (UPC)"),
			num(12, "upc_sellable", "Sellable (UPC)"),
			text(13, "upc_ship_1", "Ship + 1 (UPC)"),
			text(14, "upc_ship_2", "Ship + 2 (UPC)"),
			text(15, "ar_inner_2", "Inner - 2 (AR)"),
			text(16, "ar_inner_1", "Inner - 1 (AR)"),
			text(17, "ar_sellable", "Sellable (AR)"),
			text(18, "ar_ship_1", "Ship + 1 (AR)"),
			text(19, "ar_ship_2", "Ship + 2 (AR)"),
			text(40, "hcpc_code", "HCPC Code"),
			text(41, "product_type", "Product Type"),
			text(42, "fei_number", "FEI #"),
			text(43, "duns_number", "Duns #"),
			text(44, "dln", "DLN"),
			text(45, "device_class", "Device Class"),
			text(46, "product_code", "Product Code"),
			text(47, "fda_510_k", "510 (k)"),
			text(48, "exp_date", "EXP Date"),
			text(49, "sn_number", "SN #"),
			text(50, "sterile", "Sterile"),
			text(51, "sterile_method", "Sterile Method"),
			text(52, "shelf_life", "Shelf Life"),
			text(53, "prop_65", "Prop-65"),
			text(54, "prop_65_warning", "Prop-65 Warning"),
			text(55, "rx_required", "RX Required"),
			text(56, "dehp_free", "DEHP Free"),
			text(57, "latex", "Latex"),
			text(58, "use_field", "Use"),
			text(59, "temp_required", "Temp Required"),
			text(60, "temp_range", "Temp Range"),
			text(61, "humidity_limitation", "Humidity Limitation"),
			text(62, "gtin_inner_2", "Inner - 2 (GTIN/Pack)"),
			text(63, "gtin_inner_1", "Inner - 1 (GTIN/Pack)"),
			text(64, "gtin_sellable", "Sellable (GTIN/Pack)"),
			text(65, "gtin_ship_1", "Ship + 1 (GTIN/Pack)"),
			text(66, "gtin_ship_2", "Ship + 2 (GTIN/Pack)"),
			text(67, "product_identification", "Product Identification"),
			text(68, "term_code", "Term Code"),
			text(69, "ndc_inner_2", "Inner -2 (NDC)"),
			text(70, "ndc_inner_1", "Inner -1 (NDC)"),
			text(71, "ndc_sellable", "Sellable (NDC)"),
			text(72, "ndc_shipper_1", "Shipper +1 (NDC)"),
			text(73, "ndc_shipper_2", "Shipper +2 (NDC)"),
			text(74, "hc_class", "HC Class"),
			text(75, "license_number", "License Number"),
		},
		Essential: []string{"brand_name", "item", "description1"},
		Identifiers: []core.IdentifierGroup{
			{
				Name:      "UPC",
				Kind:      core.KindUPC,
				Fields:    []string{"upc_inner_2", "upc_inner_1", "upc_sellable", "upc_ship_1", "upc_ship_2"},
				Sellable:  "upc_sellable",
				Sentinels: []string{"", "x", "n/a"},
			},
			{
				Name:      "GTIN",
				Kind:      core.KindGTIN,
				Fields:    []string{"gtin_inner_2", "gtin_inner_1", "gtin_sellable", "gtin_ship_1", "gtin_ship_2"},
				Sellable:  "gtin_sellable",
				Sentinels: []string{"", "x", "n/a", "na"},
			},
		},
		Compare: []string{
			"brand_name", "description1", "description2", "description3",
			"uom_units_inner_2", "uom_pack_inner_1", "uom_sellable",
			"upc_inner_2", "upc_inner_1", "upc_sellable",
			"hcpc_code", "product_type", "exp_date", "sterile",
		},
	}
}
